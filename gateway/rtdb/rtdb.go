// Package rtdb implements gateway.Gateway on the Firebase Realtime Database.
//
// The Admin SDK has no streaming listeners, so a subscription is a polling
// loop of conditional reads (ETag based). All loops of one Gateway share a
// rate limiter.
package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"firebase.google.com/go/v4/errorutils"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/log"
	"golang.org/x/time/rate"
)

const (
	pathLogField = "path"
	maxBackoff   = 30 * time.Second
)

// Tree is the subset of the database the gateway needs. DBTree adapts a
// *db.Client to it.
type Tree interface {
	GetWithETag(ctx context.Context, path string) (json.RawMessage, string, error)
	// GetIfChanged returns changed=false when etag still matches.
	GetIfChanged(ctx context.Context, path, etag string) (bool, json.RawMessage, string, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Push(ctx context.Context, path string, value any) (string, error)
	Delete(ctx context.Context, path string) error
	Range(ctx context.Context, path, child, start, end string) (json.RawMessage, error)
}

type Option func(*Gateway)

func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) {
		g.interval = d
	}
}

// WithRateLimit caps the conditional reads of all subscriptions together.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type Gateway struct {
	tree     Tree
	interval time.Duration
	limiter  *rate.Limiter
}

var _ gateway.Gateway = (*Gateway)(nil)

func New(tree Tree, opts ...Option) *Gateway {
	g := &Gateway{
		tree:     tree,
		interval: time.Second,
		limiter:  rate.NewLimiter(20, 5),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Subscribe reads path once before returning, so a denied path fails here.
// Other read errors only delay the first snapshot.
func (g *Gateway) Subscribe(ctx context.Context, path string, fn gateway.Listener) (*gateway.Handle, error) {
	path = gateway.Join(path)
	logger := log.LoggerFromContext(ctx).With(slog.String(pathLogField, path))

	raw, etag, err := g.tree.GetWithETag(ctx, path)
	err = classify(err)
	if errors.Is(err, gateway.ErrRemoteDenied) {
		return nil, err
	}
	primed := err == nil
	if err != nil {
		logger.Warn("initial read failed, polling", log.Err(err))
	}

	pollCtx, cancel := context.WithCancel(ctx)
	go func() {
		if primed {
			fn(snapshot(path, raw))
		}
		g.poll(pollCtx, logger, path, etag, primed, fn)
	}()

	return gateway.NewHandle(cancel), nil
}

func (g *Gateway) poll(ctx context.Context, logger *slog.Logger, path, etag string, primed bool, fn gateway.Listener) {
	wait := g.interval
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return
		}

		var (
			changed bool
			raw     json.RawMessage
			next    string
			err     error
		)
		if primed {
			changed, raw, next, err = g.tree.GetIfChanged(ctx, path, etag)
		} else {
			raw, next, err = g.tree.GetWithETag(ctx, path)
			changed = true
		}
		if ctx.Err() != nil {
			return
		}

		switch err = classify(err); {
		case errors.Is(err, gateway.ErrRemoteDenied):
			logger.Error("listener denied, stopping", log.Err(err))
			return
		case err != nil:
			wait = min(wait*2, maxBackoff)
			logger.Warn("listener read failed", log.Err(err), slog.Duration("retryIn", wait))
		default:
			wait = g.interval
			if changed {
				etag, primed = next, true
				fn(snapshot(path, raw))
			}
		}
		timer.Reset(wait)
	}
}

func (g *Gateway) ReadOnce(ctx context.Context, path string) (gateway.Snapshot, error) {
	path = gateway.Join(path)
	raw, _, err := g.tree.GetWithETag(ctx, path)
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("read %s: %w", path, classify(err))
	}
	return snapshot(path, raw), nil
}

func (g *Gateway) Write(ctx context.Context, path string, value any) error {
	if err := g.tree.Set(ctx, gateway.Join(path), value); err != nil {
		return fmt.Errorf("write %s: %w", path, classify(err))
	}
	return nil
}

func (g *Gateway) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := g.tree.Update(ctx, gateway.Join(path), fields); err != nil {
		return fmt.Errorf("update %s: %w", path, classify(err))
	}
	return nil
}

func (g *Gateway) Append(ctx context.Context, path string, value any) (string, error) {
	key, err := g.tree.Push(ctx, gateway.Join(path), value)
	if err != nil {
		return "", fmt.Errorf("append %s: %w", path, classify(err))
	}
	return key, nil
}

func (g *Gateway) Remove(ctx context.Context, path string) error {
	if err := g.tree.Delete(ctx, gateway.Join(path)); err != nil {
		return fmt.Errorf("remove %s: %w", path, classify(err))
	}
	return nil
}

func (g *Gateway) QueryPrefix(ctx context.Context, path, child, prefix string) (gateway.Snapshot, error) {
	path = gateway.Join(path)
	raw, err := g.tree.Range(ctx, path, child, prefix, gateway.PrefixEnd(prefix))
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("query %s: %w", path, classify(err))
	}
	return snapshot(path, raw), nil
}

func snapshot(path string, raw json.RawMessage) gateway.Snapshot {
	snap := gateway.Snapshot{Path: path, Key: gateway.Key(path)}
	if len(raw) > 0 && string(raw) != "null" {
		snap.Value = raw
	}
	return snap
}

// classify maps driver errors onto the gateway sentinels. The original error
// stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, gateway.ErrRemoteDenied), errors.Is(err, gateway.ErrRemoteUnavailable):
		return err
	case errorutils.IsPermissionDenied(err), errorutils.IsUnauthenticated(err):
		return fmt.Errorf("%w: %w", gateway.ErrRemoteDenied, err)
	case errorutils.IsUnavailable(err), errorutils.IsDeadlineExceeded(err),
		errorutils.IsInternal(err), errorutils.IsResourceExhausted(err),
		errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", gateway.ErrRemoteUnavailable, err)
	}
	return err
}
