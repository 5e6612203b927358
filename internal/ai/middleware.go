package ai

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"botbuilder/internal/logging"
	"botbuilder/internal/metrics"
)

// Middleware decorates an Oracle with a cross-cutting concern.
type Middleware func(Oracle) Oracle

// Wrap applies middlewares in left-to-right order.
// Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Oracle, mws ...Middleware) Oracle {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// RateLimit caps calls at rpm requests per minute with the given burst. The
// limiter is shared by every call through the returned middleware, so wrap
// once per process. rpm <= 0 disables limiting.
func RateLimit(rpm, burst int) Middleware {
	return func(next Oracle) Oracle {
		if rpm <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		return &rateLimited{
			next: next,
			rl:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		}
	}
}

type rateLimited struct {
	next Oracle
	rl   *rate.Limiter
}

func (o *rateLimited) Generate(ctx context.Context, systemPrompt, contextPrompt string) (string, error) {
	start := time.Now()
	if err := o.rl.Wait(ctx); err != nil {
		return "", err
	}
	metrics.Get().OracleRateLimitWait.Observe(time.Since(start).Seconds())
	return o.next.Generate(ctx, systemPrompt, contextPrompt)
}

// Instrument records call counts and latency under provider and logs each
// call at debug level.
func Instrument(provider string) Middleware {
	return func(next Oracle) Oracle {
		return &instrumented{next: next, provider: provider}
	}
}

type instrumented struct {
	next     Oracle
	provider string
}

func (o *instrumented) Generate(ctx context.Context, systemPrompt, contextPrompt string) (string, error) {
	start := time.Now()
	out, err := o.next.Generate(ctx, systemPrompt, contextPrompt)
	elapsed := time.Since(start)

	metrics.Get().RecordOracleRequest(o.provider, err, elapsed)

	log := logging.L().With(
		zap.String("provider", o.provider),
		zap.Duration("duration", elapsed),
		zap.Int("prompt_bytes", len(systemPrompt)+len(contextPrompt)),
	)
	if err != nil {
		log.Warn("oracle call failed", zap.Error(err))
		return "", err
	}
	log.Debug("oracle call", zap.Int("response_bytes", len(out)))
	return out, nil
}
