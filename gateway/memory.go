package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Op names a gateway operation for fault injection.
type Op string

const (
	OpSubscribe Op = "subscribe"
	OpRead      Op = "read"
	OpWrite     Op = "write"
	OpUpdate    Op = "update"
	OpAppend    Op = "append"
	OpRemove    Op = "remove"
	OpQuery     Op = "query"
)

var errRootWrite = errors.New("cannot write at the root path")

// Memory is an in-process Gateway. Values are kept as decoded JSON trees, so
// what a listener sees is exactly what a remote tree would hand back. Every
// subscription has its own delivery goroutine; pending snapshots are coalesced
// to the latest value.
type Memory struct {
	mu      sync.Mutex
	root    map[string]any
	subs    map[uint64]*memorySub
	nextSub uint64
	offline bool
	fault   func(op Op, path string) error
}

func NewMemory() *Memory {
	return &Memory{
		root: map[string]any{},
		subs: map[uint64]*memorySub{},
	}
}

// SetFault installs a hook consulted before every operation. A non-nil
// return value fails the operation.
func (m *Memory) SetFault(fn func(op Op, path string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// SetOffline simulates connectivity loss. One-shot calls fail with
// ErrRemoteUnavailable, listeners are paused and get the current value once
// the gateway is back online.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
	if !offline {
		for _, s := range m.subs {
			s.enqueue(m.snapshotLocked(s.path))
		}
	}
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn Listener) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(OpSubscribe, path, false); err != nil {
		return nil, err
	}

	m.nextSub++
	id := m.nextSub
	s := &memorySub{
		path:   Join(path),
		fn:     fn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	m.subs[id] = s
	go s.run()
	if !m.offline {
		s.enqueue(m.snapshotLocked(s.path))
	}

	h := NewHandle(func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		close(s.done)
	})
	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-s.done:
		}
	}()
	return h, nil
}

func (m *Memory) ReadOnce(_ context.Context, path string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(OpRead, path, true); err != nil {
		return Snapshot{}, err
	}
	return m.snapshotLocked(Join(path)), nil
}

func (m *Memory) Write(_ context.Context, path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(OpWrite, path, true); err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	if err := m.setLocked(Join(path), v); err != nil {
		return err
	}
	m.notifyLocked(Join(path))
	return nil
}

func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(OpUpdate, path, true); err != nil {
		return err
	}
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		nv, err := normalize(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		normalized[k] = nv
	}
	base := Join(path)
	for k, v := range normalized {
		if err := m.setLocked(Join(base, k), v); err != nil {
			return err
		}
	}
	m.notifyLocked(base)
	return nil
}

func (m *Memory) Append(_ context.Context, path string, value any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(OpAppend, path, true); err != nil {
		return "", err
	}
	v, err := normalize(value)
	if err != nil {
		return "", err
	}
	key := NewKey()
	full := Join(path, key)
	if err := m.setLocked(full, v); err != nil {
		return "", err
	}
	m.notifyLocked(full)
	return key, nil
}

func (m *Memory) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(OpRemove, path, true); err != nil {
		return err
	}
	if err := m.setLocked(Join(path), nil); err != nil {
		return err
	}
	m.notifyLocked(Join(path))
	return nil
}

func (m *Memory) QueryPrefix(_ context.Context, path, child, prefix string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(OpQuery, path, true); err != nil {
		return Snapshot{}, err
	}
	p := Join(path)
	children, _ := m.getLocked(p).(map[string]any)
	end := PrefixEnd(prefix)
	matched := map[string]any{}
	for k, v := range children {
		rec, ok := v.(map[string]any)
		if !ok {
			continue
		}
		s, ok := rec[child].(string)
		if !ok || s < prefix || s >= end {
			continue
		}
		matched[k] = v
	}
	snap := Snapshot{Path: p, Key: Key(p)}
	if len(matched) > 0 {
		raw, err := json.Marshal(matched)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Value = raw
	}
	return snap, nil
}

func (m *Memory) checkLocked(op Op, path string, oneShot bool) error {
	if oneShot && m.offline {
		return ErrRemoteUnavailable
	}
	if m.fault != nil {
		return m.fault(op, Join(path))
	}
	return nil
}

func (m *Memory) getLocked(path string) any {
	var cur any = m.root
	for _, seg := range Split(path) {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = node[seg]
	}
	return cur
}

// setLocked stores v at path; a nil v removes the path and prunes parents
// left empty, the way a remote tree drops empty nodes.
func (m *Memory) setLocked(path string, v any) error {
	segs := Split(path)
	if len(segs) == 0 {
		return errRootWrite
	}
	if v == nil {
		m.removeLocked(segs)
		return nil
	}
	node := m.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := node[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[seg] = next
		}
		node = next
	}
	node[segs[len(segs)-1]] = v
	return nil
}

func (m *Memory) removeLocked(segs []string) {
	parents := make([]map[string]any, 0, len(segs))
	node := m.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		parents = append(parents, node)
		node = next
	}
	delete(node, segs[len(segs)-1])
	for i := len(parents) - 1; i >= 0 && len(node) == 0; i-- {
		delete(parents[i], segs[i])
		node = parents[i]
	}
}

func (m *Memory) snapshotLocked(path string) Snapshot {
	snap := Snapshot{Path: path, Key: Key(path)}
	v := m.getLocked(path)
	if v == nil {
		return snap
	}
	raw, err := json.Marshal(v)
	if err == nil {
		snap.Value = raw
	}
	return snap
}

func (m *Memory) notifyLocked(changed string) {
	if m.offline {
		return
	}
	for _, s := range m.subs {
		if overlaps(s.path, changed) {
			s.enqueue(m.snapshotLocked(s.path))
		}
	}
}

func overlaps(a, b string) bool {
	return a == b || a == "" || b == "" ||
		strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// normalize round-trips value through JSON, drops empty objects and turns
// nil-ish values into a removal.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return compact(v), nil
}

func compact(v any) any {
	node, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range node {
		if c := compact(child); c == nil {
			delete(node, k)
		} else {
			node[k] = c
		}
	}
	if len(node) == 0 {
		return nil
	}
	return node
}

// NewKey returns a time ordered unique key, the equivalent of a remote push id.
func NewKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Subscriptions returns the number of open subscriptions.
func (m *Memory) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

type memorySub struct {
	path   string
	fn     Listener
	notify chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending *Snapshot
	primed  bool
	last    json.RawMessage
}

func (s *memorySub) enqueue(snap Snapshot) {
	s.mu.Lock()
	if s.primed && bytes.Equal(s.last, snap.Value) {
		s.mu.Unlock()
		return
	}
	s.primed = true
	s.last = snap.Value
	s.pending = &snap
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		s.mu.Lock()
		snap := s.pending
		s.pending = nil
		s.mu.Unlock()
		if snap == nil {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(*snap)
	}
}
