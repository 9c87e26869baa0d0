// Package cache keeps participant profiles in Redis in front of the remote
// users tree.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klipach/chatsync/contract"
	"github.com/klipach/chatsync/log"
	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix = "chatsync:user:"
	callTimeout   = 3 * time.Second
)

// Fetcher loads a profile from the source of truth. A nil user with a nil
// error means there is no such user.
type Fetcher interface {
	FetchUser(ctx context.Context, userID string) (*contract.User, error)
}

// Users is a read-through profile cache. Redis failures are logged and the
// call falls through to the wrapped Fetcher, the cache never fails a fetch on
// its own.
type Users struct {
	client *redis.Client
	next   Fetcher
	ttl    time.Duration
}

func NewUsers(client *redis.Client, next Fetcher, ttl time.Duration) *Users {
	return &Users{client: client, next: next, ttl: ttl}
}

// Dial parses a redis:// URL and checks the server is reachable.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *Users) FetchUser(ctx context.Context, userID string) (*contract.User, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("userID", userID))

	if u, ok, err := c.get(ctx, userID); err != nil {
		logger.Warn("error while reading cached user", log.Err(err))
	} else if ok {
		return u, nil
	}

	u, err := c.next.FetchUser(ctx, userID)
	if err != nil || u == nil {
		return u, err
	}
	if err := c.set(ctx, *u); err != nil {
		logger.Warn("error while caching user", log.Err(err))
	}
	return u, nil
}

// Invalidate drops the cached profile of userID.
func (c *Users) Invalidate(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := c.client.Del(ctx, userKeyPrefix+userID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (c *Users) get(ctx context.Context, userID string) (*contract.User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	raw, err := c.client.Get(ctx, userKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	u, err := contract.DecodeUser(userID, raw)
	if err != nil {
		return nil, false, err
	}
	return &u, true, nil
}

func (c *Users) set(ctx context.Context, u contract.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.client.Set(ctx, userKeyPrefix+u.UserID, raw, c.ttl).Err()
}
