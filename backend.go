package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/klipach/chatsync/auth"
	"github.com/klipach/chatsync/cache"
	"github.com/klipach/chatsync/chat"
	"github.com/klipach/chatsync/config"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/gateway/firestore"
	"github.com/klipach/chatsync/gateway/rtdb"
	"github.com/klipach/chatsync/log"
	"github.com/klipach/chatsync/session"
	"github.com/klipach/chatsync/upload"
	"github.com/klipach/chatsync/user"
	"google.golang.org/api/option"
)

// ImageUploader stores a base64 profile image and returns its public URL.
type ImageUploader interface {
	UploadProfileImage(ctx context.Context, userID, encoded string) (string, error)
}

// UserInvalidator drops cached copies of a profile.
type UserInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Backend holds everything the functions need. Optional parts may be nil.
type Backend struct {
	Gateway     gateway.Gateway
	Verifier    auth.TokenVerifier
	Users       *user.Client
	Fetcher     session.UserFetcher
	Invalidator UserInvalidator
	Actions     *chat.Actions
	Images      ImageUploader
	LoadTimeout time.Duration
	ProjectID   string

	closers []func() error
}

// Close releases the clients opened by NewBackend.
func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewBackend wires the gateway selected by cfg together with Firebase auth,
// the optional Redis profile cache and the optional upload bucket.
func NewBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	logger := log.LoggerFromContext(ctx)

	var opts []option.ClientOption
	if cfg.Firebase.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsPath))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.Firebase.ProjectID,
		DatabaseURL: cfg.Firebase.DatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting auth client: %w", err)
	}

	b := &Backend{
		Verifier:    authClient,
		LoadTimeout: cfg.Session.LoadTimeout,
		ProjectID:   cfg.Firebase.ProjectID,
	}

	switch cfg.Gateway.Backend {
	case config.BackendMemory:
		b.Gateway = gateway.NewMemory()
	case config.BackendRTDB:
		dbClient, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting database client: %w", err)
		}
		b.Gateway = rtdb.New(rtdb.NewDBTree(dbClient),
			rtdb.WithPollInterval(cfg.Gateway.PollInterval),
			rtdb.WithRateLimit(cfg.Gateway.PollRPS, max(1, int(cfg.Gateway.PollRPS))),
		)
	case config.BackendFirestore:
		fsClient, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting firestore client: %w", err)
		}
		b.closers = append(b.closers, fsClient.Close)
		b.Gateway = firestore.New(fsClient)
	default:
		return nil, fmt.Errorf("unknown gateway backend %q", cfg.Gateway.Backend)
	}
	logger.Info("gateway selected", slog.String("backend", cfg.Gateway.Backend))

	b.Users = user.NewClient(b.Gateway, auth.NewProfiles(authClient))
	b.Fetcher = b.Users
	b.Actions = chat.NewActions(b.Gateway)

	if cfg.Redis.URL != "" {
		client, err := cache.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		users := cache.NewUsers(client, b.Users, cfg.Redis.UserTTL)
		b.Fetcher = users
		b.Invalidator = users
	}

	if cfg.Upload.Bucket != "" {
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("error creating storage client: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.Images = upload.NewImages(client, cfg.Upload.Bucket)
	}
	return b, nil
}
