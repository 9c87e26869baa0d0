package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/klipach/chatsync/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	users map[string]contract.User
	err   error
	calls int
}

func (f *fakeFetcher) FetchUser(_ context.Context, userID string) (*contract.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func newCache(t *testing.T, next Fetcher) (*Users, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := Dial(context.Background(), "redis://"+srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewUsers(client, next, time.Minute), srv
}

func TestFetchUserReadsThrough(t *testing.T) {
	ctx := context.Background()
	next := &fakeFetcher{users: map[string]contract.User{
		"u1": {UserID: "u1", FirstName: "Tibi", LastName: "Andrei", FirstLast: "tibiandrei"},
	}}
	c, srv := newCache(t, next)

	for i := 0; i < 3; i++ {
		u, err := c.FetchUser(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "Tibi Andrei", u.FullName())
	}
	assert.Equal(t, 1, next.calls)
	assert.True(t, srv.Exists(userKeyPrefix+"u1"))

	srv.FastForward(2 * time.Minute)
	_, err := c.FetchUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestFetchUserMissingIsNotCached(t *testing.T) {
	ctx := context.Background()
	next := &fakeFetcher{}
	c, srv := newCache(t, next)

	for i := 0; i < 2; i++ {
		u, err := c.FetchUser(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, u)
	}
	assert.Equal(t, 2, next.calls)
	assert.False(t, srv.Exists(userKeyPrefix+"ghost"))
}

func TestFetchUserPropagatesSourceError(t *testing.T) {
	boom := errors.New("boom")
	c, _ := newCache(t, &fakeFetcher{err: boom})
	_, err := c.FetchUser(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}

func TestFetchUserFallsThroughWhenRedisIsDown(t *testing.T) {
	next := &fakeFetcher{users: map[string]contract.User{"u1": {UserID: "u1", FirstName: "Tibi"}}}
	c, srv := newCache(t, next)
	srv.Close()

	u, err := c.FetchUser(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, 1, next.calls)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	next := &fakeFetcher{users: map[string]contract.User{"u1": {UserID: "u1", FirstName: "Tibi"}}}
	c, srv := newCache(t, next)

	_, err := c.FetchUser(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "u1"))
	require.NoError(t, c.Invalidate(ctx, "u1"))
	assert.False(t, srv.Exists(userKeyPrefix+"u1"))

	_, err = c.FetchUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestDialRejectsBadURL(t *testing.T) {
	_, err := Dial(context.Background(), "not-a-url")
	assert.Error(t, err)
}
