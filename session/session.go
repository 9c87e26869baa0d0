// Package session keeps the local chat state of one signed-in user in sync
// with the remote tree.
//
// A Session subscribes to the user's chat id list, fans out to one detail and
// one message subscription per chat, fetches participant profiles lazily and
// folds every delta into a store.State through the store reducers. All
// subscription handles are owned by the Session and cancelled by Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/klipach/chatsync/contract"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/log"
	"github.com/klipach/chatsync/store"
	"github.com/klipach/chatsync/user"
)

const (
	userIDLogField = "userID"
	chatIDLogField = "chatID"
	keyLogField    = "key"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrClosed         = errors.New("session closed")
)

// UserFetcher loads one profile. A nil user with a nil error means the
// profile does not exist.
type UserFetcher interface {
	FetchUser(ctx context.Context, userID string) (*contract.User, error)
}

type Status int

const (
	Idle Status = iota
	Subscribing
)

func (s Status) String() string {
	if s == Subscribing {
		return "subscribing"
	}
	return "idle"
}

type Option func(*Session)

// WithUserFetcher replaces the default one-shot gateway read used for
// participant profiles.
func WithUserFetcher(f UserFetcher) Option {
	return func(s *Session) {
		s.users = f
	}
}

type Session struct {
	gw     gateway.Gateway
	users  UserFetcher
	userID string

	changes chan struct{}

	mu     sync.Mutex
	status Status
	// gen is bumped on every Start and Close; callbacks carry the generation
	// they were registered for and are ignored once it is stale.
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	handles []*gateway.Handle

	state        store.State
	chatIDs      []string
	listResolved bool
	subscribed   map[string]bool
	detailSeen   map[string]bool
	fetching     map[string]bool

	loading bool
	loaded  chan struct{}
	closed  chan struct{}
}

func New(gw gateway.Gateway, userID string, opts ...Option) *Session {
	s := &Session{
		gw:      gw,
		userID:  userID,
		changes: make(chan struct{}, 1),
		state:   store.NewState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.users == nil {
		s.users = user.NewClient(gw, nil)
	}
	return s
}

// Start moves an idle session to Subscribing and opens the chat id list and
// starred index subscriptions. The store starts empty.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != Idle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.gen++
	gen := s.gen
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger = log.LoggerFromContext(ctx).With(slog.String(userIDLogField, s.userID))
	s.handles = nil
	s.state = store.NewState()
	s.chatIDs = nil
	s.listResolved = false
	s.subscribed = map[string]bool{}
	s.detailSeen = map[string]bool{}
	s.fetching = map[string]bool{}
	s.loading = true
	s.loaded = make(chan struct{})
	s.closed = make(chan struct{})
	s.status = Subscribing
	subCtx := s.ctx
	s.mu.Unlock()

	s.logger.Info("subscribing to chat listeners")

	h, err := s.gw.Subscribe(subCtx, gateway.UserChats(s.userID), func(snap gateway.Snapshot) {
		s.onChatIDs(gen, snap)
	})
	if err != nil {
		s.Close()
		return fmt.Errorf("subscribe to chat list: %w", err)
	}
	if !s.track(gen, h) {
		return ErrClosed
	}

	h, err = s.gw.Subscribe(subCtx, gateway.StarredMessages(s.userID), func(snap gateway.Snapshot) {
		s.onStarred(gen, snap)
	})
	if err != nil {
		s.Close()
		return fmt.Errorf("subscribe to starred messages: %w", err)
	}
	if !s.track(gen, h) {
		return ErrClosed
	}
	return nil
}

// Close cancels every subscription exactly once and returns the session to
// Idle. No store mutation happens after Close returns. Closing an idle
// session is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.status == Idle {
		s.mu.Unlock()
		return
	}
	s.status = Idle
	s.gen++
	handles := s.handles
	s.handles = nil
	cancel := s.cancel
	close(s.closed)
	logger := s.logger
	s.mu.Unlock()

	logger.Info("unsubscribing from chat listeners", slog.Int("subscriptions", len(handles)))
	for _, h := range handles {
		h.Cancel()
	}
	cancel()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Loading reports whether the store may still be missing chats the user
// belongs to.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// WaitLoaded blocks until Loading turns false, the session is closed or ctx
// is done.
func (s *Session) WaitLoaded(ctx context.Context) error {
	s.mu.Lock()
	if s.status == Idle {
		s.mu.Unlock()
		return ErrClosed
	}
	loaded, closed := s.loaded, s.closed
	s.mu.Unlock()

	select {
	case <-loaded:
		return nil
	case <-closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current store. The maps must not be modified.
func (s *Session) State() store.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Changes signals after store mutations. Signals are coalesced, a reader
// should take State() after each one.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

func (s *Session) activeLocked(gen uint64) bool {
	return s.status == Subscribing && s.gen == gen
}

func (s *Session) track(gen uint64, h *gateway.Handle) bool {
	s.mu.Lock()
	if !s.activeLocked(gen) {
		s.mu.Unlock()
		h.Cancel()
		return false
	}
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return true
}

func (s *Session) notifyLocked() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Session) checkLoadedLocked() {
	if !s.loading || !s.listResolved {
		return
	}
	for _, id := range s.chatIDs {
		if !s.detailSeen[id] {
			return
		}
	}
	s.loading = false
	close(s.loaded)
	s.logger.Info("chats loaded", slog.Int("chats", len(s.chatIDs)))
}
