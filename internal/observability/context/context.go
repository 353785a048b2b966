// Package context carries correlation identifiers through request and job contexts.
package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type sourceKey struct{}
type jobRunKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithSource records which entry point (webhook, scanner, cli) triggered the work.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, strings.TrimSpace(source))
}

func SourceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(sourceKey{}).(string)
	return v
}

func WithJobRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, jobRunKey{}, strings.TrimSpace(runID))
}

func JobRunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(jobRunKey{}).(string)
	return v
}
