package log

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/logging"
)

// ClientHandler sends records to Cloud Logging through the logging API
// instead of stdout. Use it where stdout is not collected.
type ClientHandler struct {
	level  slog.Leveler
	logger *logging.Logger
	attrs  []slog.Attr
}

// NewClientHandler opens a Cloud Logging client for projectID, falling back
// to the metadata server when projectID is empty. The returned close func
// flushes buffered entries.
func NewClientHandler(ctx context.Context, projectID, logID string, level slog.Leveler) (*ClientHandler, func() error, error) {
	if projectID == "" {
		var err error
		projectID, err = metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get project ID: %w", err)
		}
	}
	client, err := logging.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logging client: %w", err)
	}
	h := &ClientHandler{level: level, logger: client.Logger(logID)}
	return h, client.Close, nil
}

func (h *ClientHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ClientHandler) Handle(ctx context.Context, r slog.Record) error {
	payload := map[string]any{"message": r.Message}
	for _, attr := range h.attrs {
		payload[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(attr slog.Attr) bool {
		payload[attr.Key] = attr.Value.Any()
		return true
	})
	h.logger.Log(logging.Entry{
		Timestamp: r.Time,
		Severity:  logging.ParseSeverity(severity(r.Level)),
		Payload:   payload,
		Trace:     getTraceID(ctx),
	})
	return nil
}

func (h *ClientHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &ClientHandler{level: h.level, logger: h.logger, attrs: newAttrs}
}

func (h *ClientHandler) WithGroup(_ string) slog.Handler {
	return h
}
