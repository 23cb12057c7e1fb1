package logger

import (
	"context"
	"slices"

	"go.uber.org/zap"
)

type (
	requestIDKey struct{}
	fieldsKey    struct{}
)

// With returns ctx carrying fields in addition to any it already carries. FromCtx
// attaches them to every line logged through ctx.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	return context.WithValue(ctx, fieldsKey{}, append(slices.Clip(prev), fields...))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey{}, requestID)
	return With(ctx, zap.String("request_id", requestID))
}

func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Detach copies the request id and log fields of from onto base. Work that outlives
// a request keeps its log correlation without inheriting the request's cancellation.
func Detach(base, from context.Context) context.Context {
	if from == nil {
		return base
	}
	if id := RequestIDFrom(from); id != "" {
		base = context.WithValue(base, requestIDKey{}, id)
	}
	if fields, ok := from.Value(fieldsKey{}).([]zap.Field); ok {
		base = context.WithValue(base, fieldsKey{}, fields)
	}
	return base
}

// FromCtx returns the global logger tagged with the fields carried by ctx.
func FromCtx(ctx context.Context) *zap.Logger {
	fields, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	if len(fields) == 0 {
		return L()
	}
	return L().With(fields...)
}
