package log

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

type ctxKey struct{}

func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx returns the request-scoped logger, or the global logger outside a request.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// requestScope is the per-request state both middlewares share.
type requestScope struct {
	id     string
	start  time.Time
	logger zerolog.Logger
}

func newRequestScope(base zerolog.Logger, incomingID, method, path, ip string) requestScope {
	id := incomingID
	if id == "" {
		id = uuid.New().String()
	}
	return requestScope{
		id:    id,
		start: time.Now(),
		logger: base.With().
			Str(FieldRequestID, id).
			Str(FieldMethod, method).
			Str(FieldPath, path).
			Str(FieldClientIP, ip).
			Logger(),
	}
}

func (s requestScope) elapsedMs() float64 {
	return float64(time.Since(s.start).Milliseconds())
}
