// Package gateway is the only code path to the hosted database. It exposes the
// database as a hierarchical key-value tree addressed by slash separated paths.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var (
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrRemoteDenied      = errors.New("remote denied")
)

// Snapshot is the value at a path at some point in time. Value is nil when
// nothing is stored at the path.
type Snapshot struct {
	Path  string
	Key   string
	Value json.RawMessage
}

func (s Snapshot) Exists() bool {
	return len(s.Value) > 0 && string(s.Value) != "null"
}

// Decode unmarshals the snapshot value into v. Decoding an absent snapshot
// leaves v untouched.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

// Listener receives the current value on subscribe and each later change.
type Listener func(Snapshot)

type Gateway interface {
	Subscribe(ctx context.Context, path string, fn Listener) (*Handle, error)
	ReadOnce(ctx context.Context, path string) (Snapshot, error)
	Write(ctx context.Context, path string, value any) error
	// Update merges fields into the value at path, leaving siblings alone.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Append stores value under a new server-generated key and returns it.
	Append(ctx context.Context, path string, value any) (string, error)
	Remove(ctx context.Context, path string) error
	// QueryPrefix returns the children of path whose child field lies in
	// [prefix, prefix+"\uffff").
	QueryPrefix(ctx context.Context, path, child, prefix string) (Snapshot, error)
}

// Handle cancels a subscription. Cancel may be called any number of times.
type Handle struct {
	once   sync.Once
	cancel func()
}

func NewHandle(cancel func()) *Handle {
	return &Handle{cancel: cancel}
}

func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
	})
}

// Unsubscribe is shorthand for h.Cancel.
func Unsubscribe(h *Handle) {
	h.Cancel()
}

// PrefixEnd is the exclusive upper bound of a prefix range query.
func PrefixEnd(prefix string) string {
	return prefix + "\uffff"
}
