package store

import (
	"context"
	"log/slog"
	"time"
)

// Sender defaults.
const (
	DefaultOutboxPollInterval = 5 * time.Second
	DefaultOutboxClaimLimit   = 10
	DefaultOutboxStaleAfter   = 5 * time.Minute
	DefaultOutboxBaseBackoff  = 10 * time.Second
	DefaultOutboxMaxBackoff   = 30 * time.Minute
)

// OutboxSendFunc performs the actual delivery of one outbox message.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender drains an OutboxRepo through a send function.
type OutboxSender struct {
	repo   OutboxRepo
	send   OutboxSendFunc
	poll   time.Duration
	limit  int
	stale  time.Duration
	base   time.Duration
	maxGap time.Duration
	now    func() time.Time
}

// SenderOption configures an OutboxSender.
type SenderOption func(*OutboxSender)

// WithPollInterval sets how often due messages are claimed.
func WithPollInterval(d time.Duration) SenderOption {
	return func(s *OutboxSender) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithClaimLimit caps how many messages one poll claims.
func WithClaimLimit(n int) SenderOption {
	return func(s *OutboxSender) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithStaleAfter sets how long a message may sit in sending before Run
// requeues it at startup.
func WithStaleAfter(d time.Duration) SenderOption {
	return func(s *OutboxSender) {
		if d > 0 {
			s.stale = d
		}
	}
}

// WithBackoff sets the first retry delay and the ceiling it doubles up to.
func WithBackoff(base, max time.Duration) SenderOption {
	return func(s *OutboxSender) {
		if base > 0 {
			s.base = base
		}
		if max >= s.base {
			s.maxGap = max
		}
	}
}

// NewOutboxSender creates a sender with the defaults above.
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, opts ...SenderOption) *OutboxSender {
	s := &OutboxSender{
		repo:   repo,
		send:   send,
		poll:   DefaultOutboxPollInterval,
		limit:  DefaultOutboxClaimLimit,
		stale:  DefaultOutboxStaleAfter,
		base:   DefaultOutboxBaseBackoff,
		maxGap: DefaultOutboxMaxBackoff,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run requeues messages left in sending by a previous process, then polls
// until ctx is cancelled. The first poll happens immediately.
func (s *OutboxSender) Run(ctx context.Context) {
	if n, err := s.repo.RequeueStaleSendingMessages(s.now().Add(-s.stale)); err != nil {
		slog.Error("OutboxSender.Run: stale recovery failed", "error", err)
	} else if n > 0 {
		slog.Info("OutboxSender.Run: requeued stale messages", "count", n)
	}

	slog.Info("OutboxSender.Run: started", "poll", s.poll, "limit", s.limit)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		if _, _, err := s.PollOnce(ctx); err != nil {
			slog.Error("OutboxSender.Run: poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce claims due messages and tries each one. It stops early when ctx
// is cancelled; unsent claimed messages are released for a later retry.
func (s *OutboxSender) PollOnce(ctx context.Context) (sent, failed int, err error) {
	if ctx.Err() != nil {
		return 0, 0, nil
	}
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.limit)
	if err != nil {
		return 0, 0, err
	}

	for i, msg := range msgs {
		if ctx.Err() != nil {
			for _, rest := range msgs[i:] {
				s.fail(rest, ctx.Err().Error(), now)
			}
			break
		}
		if sendErr := s.send(ctx, msg); sendErr != nil {
			slog.Warn("OutboxSender.PollOnce: send failed", "id", msg.ID, "kind", msg.Kind, "attempt", msg.Attempts+1, "error", sendErr)
			s.fail(msg, sendErr.Error(), now.Add(s.Backoff(msg.Attempts)))
			failed++
			continue
		}
		if markErr := s.repo.MarkOutboxMessageSent(msg.ID); markErr != nil {
			slog.Error("OutboxSender.PollOnce: mark sent failed", "id", msg.ID, "error", markErr)
			continue
		}
		slog.Debug("OutboxSender.PollOnce: sent", "id", msg.ID, "kind", msg.Kind)
		sent++
	}
	return sent, failed, nil
}

func (s *OutboxSender) fail(msg OutboxMessage, reason string, next time.Time) {
	if err := s.repo.FailOutboxMessage(msg.ID, reason, next); err != nil {
		slog.Error("OutboxSender.fail: could not record failure", "id", msg.ID, "error", err)
	}
}

// Backoff returns the retry delay after the given number of earlier
// attempts: base, 2*base, 4*base and so on, capped at the maximum.
func (s *OutboxSender) Backoff(attempts int) time.Duration {
	d := s.base
	for i := 0; i < attempts && d < s.maxGap; i++ {
		d *= 2
	}
	if d > s.maxGap {
		d = s.maxGap
	}
	return d
}
