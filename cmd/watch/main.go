package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/klipach/chatsync"
	"github.com/klipach/chatsync/config"
	"github.com/klipach/chatsync/session"
	"github.com/klipach/chatsync/store"
)

// GATEWAY_BACKEND=firestore go run ./cmd/watch -uid <uid>
func main() {
	uid := flag.String("uid", "", "User whose chats are watched")
	flag.Parse()
	if *uid == "" {
		log.Fatalf("Please provide a user UID using the -uid flag")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := chatsync.NewBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

	sess := session.New(b.Gateway, *uid, session.WithUserFetcher(b.Fetcher))
	if err := sess.Start(ctx); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	defer sess.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Changes():
			render(sess.State(), *uid, sess.Loading())
		}
	}
}

func render(st store.State, uid string, loading bool) {
	fmt.Print("\033[H\033[2J")
	if loading {
		fmt.Println("loading...")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UPDATED\tCHAT\tWITH\tLATEST\tMESSAGES\tSTARRED")
	for _, c := range store.SortedChats(st.Chats) {
		latest := c.LatestMessageText
		if latest == "" {
			latest = "New Chat"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			c.UpdatedAt.Local().Format(time.DateTime),
			c.Key,
			st.ChatTitle(c, uid),
			latest,
			len(st.Messages[c.Key]),
			len(st.Starred[c.Key]),
		)
	}
	w.Flush()
}
