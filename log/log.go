package log

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const ErrorMsgLogField = "errorMsg"

type ctxKey struct{}

type traceKey struct{}

// CloudLoggingHandler is a slog.Handler that writes Google Cloud structured
// JSON lines.
type CloudLoggingHandler struct {
	level slog.Leveler
	attrs []slog.Attr

	mu *sync.Mutex
	w  io.Writer
}

// NewCloudLoggingHandler creates a handler writing to stdout at info level.
func NewCloudLoggingHandler() *CloudLoggingHandler {
	return NewCloudLoggingHandlerTo(os.Stdout, slog.LevelInfo)
}

// NewCloudLoggingHandlerTo creates a handler writing to w, dropping records
// below level.
func NewCloudLoggingHandlerTo(w io.Writer, level slog.Leveler) *CloudLoggingHandler {
	return &CloudLoggingHandler{level: level, mu: &sync.Mutex{}, w: w}
}

// Handle processes log records.
func (h *CloudLoggingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := map[string]any{
		"severity": severity(r.Level),
		"time":     r.Time.Format(time.RFC3339Nano),
		"message":  r.Message,
	}
	if r.Time.IsZero() {
		entry["time"] = time.Now().Format(time.RFC3339Nano)
	}

	if traceID := getTraceID(ctx); traceID != "" {
		entry["logging.googleapis.com/trace"] = traceID
	}

	// handler attributes first, record attributes win on conflict
	for _, attr := range h.attrs {
		entry[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(attr slog.Attr) bool {
		entry[attr.Key] = attr.Value.Any()
		return true
	})

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(jsonData, '\n'))
	return err
}

func (h *CloudLoggingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// WithAttrs returns a new handler with additional attributes.
func (h *CloudLoggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &CloudLoggingHandler{level: h.level, attrs: newAttrs, mu: h.mu, w: h.w}
}

// WithGroup returns the same handler, as grouping is not implemented.
func (h *CloudLoggingHandler) WithGroup(_ string) slog.Handler {
	return h
}

// severity maps slog levels onto Cloud Logging severities.
func severity(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARNING"
	case l >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

// ParseLevel understands debug, info, warn and error. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithTraceID attaches a Cloud Trace id picked up by the handler.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func getTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceKey{}).(string)
	return traceID
}

var (
	defaultMu      sync.RWMutex
	defaultHandler slog.Handler = NewCloudLoggingHandler()
)

// SetDefault replaces the handler used when a context carries no logger.
func SetDefault(h slog.Handler) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultHandler = h
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return slog.New(defaultHandler)
}

// Err is the attribute every failure is logged with.
func Err(err error) slog.Attr {
	return slog.String(ErrorMsgLogField, err.Error())
}
