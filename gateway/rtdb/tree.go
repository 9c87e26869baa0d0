package rtdb

import (
	"context"
	"encoding/json"

	"firebase.google.com/go/v4/db"
)

// DBTree is a Tree over the Admin SDK database client. Range queries need an
// ".indexOn" rule for the ordered child.
type DBTree struct {
	client *db.Client
}

var _ Tree = (*DBTree)(nil)

func NewDBTree(client *db.Client) *DBTree {
	return &DBTree{client: client}
}

func (t *DBTree) GetWithETag(ctx context.Context, path string) (json.RawMessage, string, error) {
	var raw json.RawMessage
	etag, err := t.client.NewRef(path).GetWithETag(ctx, &raw)
	return raw, etag, err
}

func (t *DBTree) GetIfChanged(ctx context.Context, path, etag string) (bool, json.RawMessage, string, error) {
	var raw json.RawMessage
	changed, next, err := t.client.NewRef(path).GetIfChanged(ctx, etag, &raw)
	return changed, raw, next, err
}

func (t *DBTree) Set(ctx context.Context, path string, value any) error {
	return t.client.NewRef(path).Set(ctx, value)
}

func (t *DBTree) Update(ctx context.Context, path string, fields map[string]any) error {
	return t.client.NewRef(path).Update(ctx, fields)
}

func (t *DBTree) Push(ctx context.Context, path string, value any) (string, error) {
	ref, err := t.client.NewRef(path).Push(ctx, value)
	if err != nil {
		return "", err
	}
	return ref.Key, nil
}

func (t *DBTree) Delete(ctx context.Context, path string) error {
	return t.client.NewRef(path).Delete(ctx)
}

func (t *DBTree) Range(ctx context.Context, path, child, start, end string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := t.client.NewRef(path).OrderByChild(child).StartAt(start).EndAt(end).Get(ctx, &raw)
	return raw, err
}
