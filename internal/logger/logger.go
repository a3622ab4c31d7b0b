// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"log/slog"
	"os"
)

// sessionIDKey is the context key for runtime session IDs.
type sessionIDKey struct{}

// documentIDKey is the context key for document IDs.
type documentIDKey struct{}

// New creates a new structured JSON logger.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// WithSessionID returns a new context with the given runtime session ID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext extracts the runtime session ID from the context.
func SessionIDFromContext(ctx context.Context) string {
	if v := ctx.Value(sessionIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// WithDocumentID returns a new context with the given document ID.
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, documentIDKey{}, documentID)
}

// DocumentIDFromContext extracts the document ID from the context.
func DocumentIDFromContext(ctx context.Context) string {
	if v := ctx.Value(documentIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// FromContext returns a logger with context fields (session ID, document ID) attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := base
	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		l = l.With("session_id", sessionID)
	}
	if documentID := DocumentIDFromContext(ctx); documentID != "" {
		l = l.With("document_id", documentID)
	}
	return l
}
