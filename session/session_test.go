package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/klipach/chatsync/chat"
	"github.com/klipach/chatsync/contract"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = time.Millisecond
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	next  UserFetcher
}

func (f *countingFetcher) FetchUser(ctx context.Context, userID string) (*contract.User, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[userID]++
	f.mu.Unlock()
	return f.next.FetchUser(ctx, userID)
}

func (f *countingFetcher) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[userID]
}

func writeChat(t *testing.T, gw gateway.Gateway, chatID string, updatedAt time.Time, users ...string) {
	t.Helper()
	require.NoError(t, gw.Write(context.Background(), gateway.Chat(chatID), map[string]any{
		"users":     users,
		"createdBy": users[0],
		"updatedBy": users[0],
		"createdAt": t0,
		"updatedAt": updatedAt,
	}))
}

func writeUser(t *testing.T, gw gateway.Gateway, userID, first, last string) {
	t.Helper()
	require.NoError(t, gw.Write(context.Background(), gateway.User(userID), map[string]any{
		"userId":    userID,
		"firstName": first,
		"lastName":  last,
	}))
}

func listChat(t *testing.T, gw gateway.Gateway, userID, chatID string) {
	t.Helper()
	_, err := gw.Append(context.Background(), gateway.UserChats(userID), chatID)
	require.NoError(t, err)
}

func startSession(t *testing.T, gw gateway.Gateway, userID string, opts ...Option) *Session {
	t.Helper()
	s := New(gw, userID, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func waitLoaded(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.WaitLoaded(ctx))
}

func TestEmptyChatListResolvesLoading(t *testing.T) {
	gw := gateway.NewMemory()
	s := startSession(t, gw, "me")

	waitLoaded(t, s)
	assert.False(t, s.Loading())
	assert.Empty(t, s.State().Chats)
	assert.Equal(t, Subscribing, s.Status())
}

func TestLoadsChatsMessagesAndUsers(t *testing.T) {
	gw := gateway.NewMemory()
	writeUser(t, gw, "me", "Me", "Myself")
	writeUser(t, gw, "you", "Tibi", "Andrei")
	writeChat(t, gw, "A", t0, "me", "you")
	writeChat(t, gw, "B", t0.Add(time.Hour), "me", "you")
	listChat(t, gw, "me", "A")
	listChat(t, gw, "me", "B")
	_, err := gw.Append(context.Background(), gateway.Messages("A"), map[string]any{"sentBy": "you", "sentAt": t0, "text": "hi"})
	require.NoError(t, err)

	s := startSession(t, gw, "me")
	waitLoaded(t, s)

	require.Eventually(t, func() bool {
		st := s.State()
		return len(st.Chats) == 2 && len(st.Users) == 2 && len(st.Messages["A"]) == 1
	}, waitFor, tick)

	st := s.State()
	sorted := store.SortedChats(st.Chats)
	assert.Equal(t, "B", sorted[0].Key)
	assert.Equal(t, "A", sorted[1].Key)
	assert.Equal(t, "Tibi Andrei", st.ChatTitle(st.Chats["A"], "me"))
	assert.Equal(t, "hi", st.ChatMessages("A")[0].Text)
}

func TestMissingChatDetailStillResolvesLoading(t *testing.T) {
	gw := gateway.NewMemory()
	writeChat(t, gw, "A", t0, "me", "you")
	listChat(t, gw, "me", "A")
	listChat(t, gw, "me", "ghost")

	s := startSession(t, gw, "me")
	waitLoaded(t, s)

	require.Eventually(t, func() bool { return len(s.State().Chats) == 1 }, waitFor, tick)
	assert.NotContains(t, s.State().Chats, "ghost")
}

func TestFailedChatSubscriptionRetriedOnNextList(t *testing.T) {
	gw := gateway.NewMemory()
	writeChat(t, gw, "A", t0, "me", "you")
	listChat(t, gw, "me", "A")
	gw.SetFault(func(op gateway.Op, path string) error {
		if op == gateway.OpSubscribe && path == gateway.Chat("A") {
			return gateway.ErrRemoteDenied
		}
		return nil
	})

	s := startSession(t, gw, "me")
	time.Sleep(20 * time.Millisecond)
	assert.True(t, s.Loading())
	assert.Empty(t, s.State().Chats)

	gw.SetFault(nil)
	writeChat(t, gw, "B", t0, "me", "you")
	listChat(t, gw, "me", "B")

	waitLoaded(t, s)
	require.Eventually(t, func() bool { return len(s.State().Chats) == 2 }, waitFor, tick)
}

func TestDuplicateChatIDsSubscribedOnce(t *testing.T) {
	gw := gateway.NewMemory()
	writeChat(t, gw, "A", t0, "me", "you")
	listChat(t, gw, "me", "A")
	listChat(t, gw, "me", "A")

	s := startSession(t, gw, "me")
	waitLoaded(t, s)

	// chat list + starred index + detail and messages of A
	require.Eventually(t, func() bool { return gw.Subscriptions() == 4 }, waitFor, tick)
}

func TestUserFetchedOnce(t *testing.T) {
	gw := gateway.NewMemory()
	writeUser(t, gw, "you", "Tibi", "Andrei")
	writeChat(t, gw, "A", t0, "me", "you")
	writeChat(t, gw, "B", t0, "me", "you")
	listChat(t, gw, "me", "A")
	listChat(t, gw, "me", "B")

	fetcher := &countingFetcher{next: userFetcherFunc(func(ctx context.Context, id string) (*contract.User, error) {
		snap, err := gw.ReadOnce(ctx, gateway.User(id))
		if err != nil || !snap.Exists() {
			return nil, err
		}
		u, err := contract.DecodeUser(id, snap.Value)
		return &u, err
	})}
	s := startSession(t, gw, "me", WithUserFetcher(fetcher))
	waitLoaded(t, s)

	require.Eventually(t, func() bool { _, ok := s.State().Users["you"]; return ok }, waitFor, tick)

	// later detail updates must not refetch a cached user
	writeChat(t, gw, "A", t0.Add(time.Minute), "me", "you")
	require.Eventually(t, func() bool {
		return s.State().Chats["A"].UpdatedAt.Equal(t0.Add(time.Minute))
	}, waitFor, tick)
	assert.Equal(t, 1, fetcher.count("you"))
}

type userFetcherFunc func(ctx context.Context, id string) (*contract.User, error)

func (f userFetcherFunc) FetchUser(ctx context.Context, id string) (*contract.User, error) {
	return f(ctx, id)
}

func TestLiveUpdatesCloseTheLoop(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemory()
	actions := chat.NewActions(gw)

	s := startSession(t, gw, "me")
	waitLoaded(t, s)

	key, err := actions.CreateChat(ctx, "me", []string{"me", "you"})
	require.NoError(t, err)
	require.NoError(t, actions.SendTextMessage(ctx, key, "me", "hello", ""))

	require.Eventually(t, func() bool {
		st := s.State()
		return st.Chats[key].LatestMessageText == "hello" && len(st.Messages[key]) == 1
	}, waitFor, tick)

	var msgKey string
	for k := range s.State().Messages[key] {
		msgKey = k
	}
	starred, err := actions.ToggleStarMessage(ctx, msgKey, key, "me")
	require.NoError(t, err)
	require.True(t, starred)
	require.Eventually(t, func() bool { return s.State().IsStarred(key, msgKey) }, waitFor, tick)

	_, err = actions.ToggleStarMessage(ctx, msgKey, key, "me")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !s.State().IsStarred(key, msgKey) }, waitFor, tick)
}

func TestMessagesReplacedNotMerged(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemory()
	writeChat(t, gw, "A", t0, "me", "you")
	listChat(t, gw, "me", "A")
	require.NoError(t, gw.Write(ctx, gateway.Messages("A"), map[string]any{
		"m1": map[string]any{"sentBy": "me", "sentAt": t0, "text": "one"},
		"m2": map[string]any{"sentBy": "me", "sentAt": t0, "text": "two"},
	}))

	s := startSession(t, gw, "me")
	require.Eventually(t, func() bool { return len(s.State().Messages["A"]) == 2 }, waitFor, tick)

	require.NoError(t, gw.Write(ctx, gateway.Messages("A"), map[string]any{
		"m3": map[string]any{"sentBy": "you", "sentAt": t0, "text": "three"},
		"bad": map[string]any{"text": "no sender"},
	}))
	require.Eventually(t, func() bool {
		msgs := s.State().Messages["A"]
		_, ok := msgs["m3"]
		return len(msgs) == 1 && ok
	}, waitFor, tick)
}

func TestMalformedChatDetailDropped(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemory()
	require.NoError(t, gw.Write(ctx, gateway.Chat("A"), map[string]any{"users": "not a list"}))
	listChat(t, gw, "me", "A")

	s := startSession(t, gw, "me")
	waitLoaded(t, s)
	assert.Empty(t, s.State().Chats)
}

func TestCloseStopsMutations(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemory()
	writeChat(t, gw, "A", t0, "me", "you")
	listChat(t, gw, "me", "A")

	s := startSession(t, gw, "me")
	waitLoaded(t, s)
	require.Eventually(t, func() bool { return len(s.State().Chats) == 1 }, waitFor, tick)

	s.Close()
	s.Close()
	assert.Equal(t, Idle, s.Status())
	require.Eventually(t, func() bool { return gw.Subscriptions() == 0 }, waitFor, tick)

	before := s.State()
	writeChat(t, gw, "A", t0.Add(time.Hour), "me", "you")
	_, err := gw.Append(ctx, gateway.Messages("A"), map[string]any{"sentBy": "you", "sentAt": t0, "text": "late"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, s.State())
	assert.ErrorIs(t, s.WaitLoaded(ctx), ErrClosed)
}

func TestRestartAfterClose(t *testing.T) {
	gw := gateway.NewMemory()
	writeChat(t, gw, "A", t0, "me", "you")
	listChat(t, gw, "me", "A")

	s := startSession(t, gw, "me")
	waitLoaded(t, s)
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	s.Close()

	require.NoError(t, s.Start(context.Background()))
	waitLoaded(t, s)
	require.Eventually(t, func() bool { return len(s.State().Chats) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return gw.Subscriptions() == 4 }, waitFor, tick)
}

func TestOfflineKeepsStaleState(t *testing.T) {
	gw := gateway.NewMemory()
	writeChat(t, gw, "A", t0, "me", "you")
	listChat(t, gw, "me", "A")

	s := startSession(t, gw, "me")
	waitLoaded(t, s)
	require.Eventually(t, func() bool { return len(s.State().Chats) == 1 }, waitFor, tick)

	gw.SetOffline(true)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, s.State().Chats, 1)

	err := gw.Write(context.Background(), gateway.Chat("A"), map[string]any{"updatedAt": t0.Add(time.Hour)})
	require.ErrorIs(t, err, gateway.ErrRemoteUnavailable)
	assert.True(t, s.State().Chats["A"].UpdatedAt.Equal(t0))

	gw.SetOffline(false)
	writeChat(t, gw, "A", t0.Add(time.Hour), "me", "you")
	require.Eventually(t, func() bool {
		return s.State().Chats["A"].UpdatedAt.Equal(t0.Add(time.Hour))
	}, waitFor, tick)
}

func TestChangesSignal(t *testing.T) {
	gw := gateway.NewMemory()
	s := startSession(t, gw, "me")
	select {
	case <-s.Changes():
	case <-time.After(waitFor):
		t.Fatal("no change signal")
	}
}
