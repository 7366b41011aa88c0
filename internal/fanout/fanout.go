// ABOUTME: Sequential rate-limited delivery to many recipients
// ABOUTME: Paces sends with golang.org/x/time/rate and keeps going past individual failures

// Package fanout delivers one message to many actors in sequence, pausing
// between sends to stay under the transport's rate limit. A failed
// recipient is logged and counted; the rest still get the message.
package fanout

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/olymp-desk/internal/chat"
)

// DefaultInterval is the pause between consecutive sends.
const DefaultInterval = 50 * time.Millisecond

// SendFunc delivers to one recipient.
type SendFunc func(ctx context.Context, to chat.ActorID) error

// Result summarizes a run.
type Result struct {
	Total  int
	Sent   int
	Failed []chat.ActorID
}

// Sender paces sequential sends.
type Sender struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a sender with one send per interval. A non-positive interval
// disables pacing.
func New(interval time.Duration, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Sender{
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "fanout"),
	}
}

// Send calls fn for every recipient in order. It stops early only when ctx
// is done, returning the partial result and the context error.
func (s *Sender) Send(ctx context.Context, recipients []chat.ActorID, fn SendFunc) (Result, error) {
	res := Result{Total: len(recipients)}
	for _, to := range recipients {
		if err := s.limiter.Wait(ctx); err != nil {
			return res, err
		}
		if err := fn(ctx, to); err != nil {
			s.logger.Warn("fanout delivery failed", "to", to, "error", err)
			res.Failed = append(res.Failed, to)
			continue
		}
		res.Sent++
	}
	s.logger.Info("fanout finished", "total", res.Total, "sent", res.Sent, "failed", len(res.Failed))
	return res, nil
}
