package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/klipach/chatsync/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestLocate(t *testing.T) {
	tests := []struct {
		path       string
		collection string
		doc        string
		fields     []string
	}{
		{path: "users", collection: "users"},
		{path: "/chats/c1/", collection: "chats", doc: "c1", fields: []string{}},
		{path: "userStarredMessages/u1/c1/m1", collection: "userStarredMessages", doc: "u1", fields: []string{"c1", "m1"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			loc, err := locate(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.collection, loc.collection)
			assert.Equal(t, tt.doc, loc.doc)
			if tt.doc != "" {
				assert.Equal(t, tt.fields, loc.fields)
			}
		})
	}

	_, err := locate("/")
	assert.ErrorIs(t, err, errPathTooShort)
}

func TestExtractAndNest(t *testing.T) {
	data := nest([]string{"c1", "m1"}, map[string]any{"messageId": "m1"})
	assert.Equal(t, map[string]any{"c1": map[string]any{"m1": map[string]any{"messageId": "m1"}}}, data)

	assert.Equal(t, map[string]any{"messageId": "m1"}, extract(data, []string{"c1", "m1"}))
	assert.Nil(t, extract(data, []string{"c1", "m2"}))
	assert.Nil(t, extract(data, []string{"c1", "m1", "messageId", "deeper"}))
	assert.Nil(t, extract(nil, nil))
	assert.Equal(t, data, extract(data, nil))
}

func TestMergeSharesParents(t *testing.T) {
	data := map[string]any{}
	merge(data, []string{"a", "x"}, 1)
	merge(data, []string{"a", "y"}, 2)
	merge(data, []string{"b"}, 3)
	assert.Equal(t, map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 3}, data)
}

func TestLocationSnapshot(t *testing.T) {
	loc, err := locate("messages/c1")
	require.NoError(t, err)

	snap := loc.snapshot(nil)
	assert.False(t, snap.Exists())
	assert.Equal(t, "c1", snap.Key)

	assert.False(t, loc.snapshot(map[string]any{}).Exists())

	snap = loc.snapshot(map[string]any{"m1": map[string]any{"text": "hi"}})
	require.True(t, snap.Exists())
	assert.JSONEq(t, `{"m1":{"text":"hi"}}`, string(snap.Value))
}

func TestClassify(t *testing.T) {
	plain := errors.New("invalid")
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "denied", err: status.Error(codes.PermissionDenied, "no"), expected: gateway.ErrRemoteDenied},
		{name: "unauthenticated", err: status.Error(codes.Unauthenticated, "no"), expected: gateway.ErrRemoteDenied},
		{name: "unavailable", err: status.Error(codes.Unavailable, "down"), expected: gateway.ErrRemoteUnavailable},
		{name: "deadline", err: fmt.Errorf("get: %w", context.DeadlineExceeded), expected: gateway.ErrRemoteUnavailable},
		{name: "other", err: plain, expected: plain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.expected)
		})
	}
	assert.NoError(t, classify(nil))
}

func TestNormalizeStoresTimestampsAsText(t *testing.T) {
	v, err := normalize(struct {
		Text   string    `json:"text"`
		SentAt time.Time `json:"sentAt"`
	}{Text: "hi", SentAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi", "sentAt": "2024-03-01T12:00:00Z"}, v)

	v, err = normalize(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}
