// Package firestore implements gateway.Gateway on Cloud Firestore.
//
// A tree path maps onto Firestore as collection/document/field...: the first
// two segments address a document, the rest is a field path inside it. So
// messages/{chatId} is one document holding every message of the chat as a
// map field, which keeps a chat within the 1 MiB document limit only for
// moderate histories.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	pathLogField = "path"
	minBackoff   = 500 * time.Millisecond
	maxBackoff   = 30 * time.Second
)

var errPathTooShort = errors.New("path needs a collection")

type Gateway struct {
	client *firestore.Client
}

var _ gateway.Gateway = (*Gateway)(nil)

func New(client *firestore.Client) *Gateway {
	return &Gateway{client: client}
}

func (g *Gateway) Subscribe(ctx context.Context, path string, fn gateway.Listener) (*gateway.Handle, error) {
	loc, err := locate(path)
	if err != nil {
		return nil, err
	}
	logger := log.LoggerFromContext(ctx).With(slog.String(pathLogField, loc.path))
	subCtx, cancel := context.WithCancel(ctx)
	if loc.doc == "" {
		go g.listenCollection(subCtx, logger, loc, fn)
	} else {
		go g.listenDocument(subCtx, logger, loc, fn)
	}
	return gateway.NewHandle(cancel), nil
}

func (g *Gateway) listenDocument(ctx context.Context, logger *slog.Logger, loc location, fn gateway.Listener) {
	ref := g.client.Collection(loc.collection).Doc(loc.doc)
	g.retry(ctx, logger, func() error {
		it := ref.Snapshots(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				return err
			}
			var data map[string]any
			if snap.Exists() {
				data = snap.Data()
			}
			fn(loc.snapshot(extract(data, loc.fields)))
		}
	})
}

func (g *Gateway) listenCollection(ctx context.Context, logger *slog.Logger, loc location, fn gateway.Listener) {
	g.retry(ctx, logger, func() error {
		it := g.client.Collection(loc.collection).Snapshots(ctx)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				return err
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				return err
			}
			fn(loc.snapshot(collect(docs)))
		}
	})
}

// retry runs listen until ctx is done or the listener is denied, backing off
// between failed attempts.
func (g *Gateway) retry(ctx context.Context, logger *slog.Logger, listen func() error) {
	wait := minBackoff
	for {
		err := listen()
		if ctx.Err() != nil {
			return
		}
		err = classify(err)
		if errors.Is(err, gateway.ErrRemoteDenied) {
			logger.Error("listener denied, stopping", log.Err(err))
			return
		}
		logger.Warn("listener failed", log.Err(err), slog.Duration("retryIn", wait))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait = min(wait*2, maxBackoff)
	}
}

func (g *Gateway) ReadOnce(ctx context.Context, path string) (gateway.Snapshot, error) {
	loc, err := locate(path)
	if err != nil {
		return gateway.Snapshot{}, err
	}
	if loc.doc == "" {
		docs, err := g.client.Collection(loc.collection).Documents(ctx).GetAll()
		if err != nil {
			return gateway.Snapshot{}, fmt.Errorf("read %s: %w", loc.path, classify(err))
		}
		return loc.snapshot(collect(docs)), nil
	}

	snap, err := g.client.Collection(loc.collection).Doc(loc.doc).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return loc.snapshot(nil), nil
	}
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("read %s: %w", loc.path, classify(err))
	}
	return loc.snapshot(extract(snap.Data(), loc.fields)), nil
}

func (g *Gateway) Write(ctx context.Context, path string, value any) error {
	loc, err := locate(path)
	if err != nil {
		return err
	}
	if loc.doc == "" {
		return fmt.Errorf("write %s: %w", loc.path, errPathTooShort)
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	if v == nil {
		return g.Remove(ctx, path)
	}

	ref := g.client.Collection(loc.collection).Doc(loc.doc)
	if len(loc.fields) == 0 {
		data, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("write %s: document value must be an object", loc.path)
		}
		_, err = ref.Set(ctx, data)
	} else {
		_, err = ref.Set(ctx, nest(loc.fields, v), firestore.Merge(firestore.FieldPath(loc.fields)))
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", loc.path, classify(err))
	}
	return nil
}

func (g *Gateway) Update(ctx context.Context, path string, fields map[string]any) error {
	loc, err := locate(path)
	if err != nil {
		return err
	}
	if loc.doc == "" {
		return fmt.Errorf("update %s: %w", loc.path, errPathTooShort)
	}
	data := map[string]any{}
	paths := make([]firestore.FieldPath, 0, len(fields))
	for k, raw := range fields {
		v, err := normalize(raw)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		fp := append(append([]string{}, loc.fields...), gateway.Split(k)...)
		if v == nil {
			v = firestore.Delete
		}
		merge(data, fp, v)
		paths = append(paths, firestore.FieldPath(fp))
	}
	_, err = g.client.Collection(loc.collection).Doc(loc.doc).Set(ctx, data, firestore.Merge(paths...))
	if err != nil {
		return fmt.Errorf("update %s: %w", loc.path, classify(err))
	}
	return nil
}

func (g *Gateway) Append(ctx context.Context, path string, value any) (string, error) {
	loc, err := locate(path)
	if err != nil {
		return "", err
	}
	key := gateway.NewKey()
	if loc.doc == "" {
		v, err := normalize(value)
		if err != nil {
			return "", err
		}
		data, ok := v.(map[string]any)
		if !ok {
			return "", fmt.Errorf("append %s: document value must be an object", loc.path)
		}
		if _, err := g.client.Collection(loc.collection).Doc(key).Create(ctx, data); err != nil {
			return "", fmt.Errorf("append %s: %w", loc.path, classify(err))
		}
		return key, nil
	}
	if err := g.Write(ctx, gateway.Join(loc.path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (g *Gateway) Remove(ctx context.Context, path string) error {
	loc, err := locate(path)
	if err != nil {
		return err
	}
	if loc.doc == "" {
		return fmt.Errorf("remove %s: %w", loc.path, errPathTooShort)
	}
	ref := g.client.Collection(loc.collection).Doc(loc.doc)
	if len(loc.fields) == 0 {
		_, err = ref.Delete(ctx)
	} else {
		_, err = ref.Update(ctx, []firestore.Update{{FieldPath: firestore.FieldPath(loc.fields), Value: firestore.Delete}})
	}
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", loc.path, classify(err))
	}
	return nil
}

// QueryPrefix supports collection paths only.
func (g *Gateway) QueryPrefix(ctx context.Context, path, child, prefix string) (gateway.Snapshot, error) {
	loc, err := locate(path)
	if err != nil {
		return gateway.Snapshot{}, err
	}
	if loc.doc != "" {
		return gateway.Snapshot{}, fmt.Errorf("query %s: only collections can be queried", loc.path)
	}
	it := g.client.Collection(loc.collection).
		Where(child, ">=", prefix).
		Where(child, "<", gateway.PrefixEnd(prefix)).
		Documents(ctx)
	defer it.Stop()

	var docs []*firestore.DocumentSnapshot
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return gateway.Snapshot{}, fmt.Errorf("query %s: %w", loc.path, classify(err))
		}
		docs = append(docs, doc)
	}
	return loc.snapshot(collect(docs)), nil
}

func collect(docs []*firestore.DocumentSnapshot) map[string]any {
	if len(docs) == 0 {
		return nil
	}
	out := make(map[string]any, len(docs))
	for _, d := range docs {
		out[d.Ref.ID] = d.Data()
	}
	return out
}

// normalize turns value into plain JSON data so every backend stores the
// same shapes, timestamps included.
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
	return v, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %w", gateway.ErrRemoteDenied, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal, codes.Aborted:
		return fmt.Errorf("%w: %w", gateway.ErrRemoteUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", gateway.ErrRemoteUnavailable, err)
	}
	return err
}
