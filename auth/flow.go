package auth

import (
	"log/slog"
	"time"
)

// Flow orchestrates the OPAQUE registration and login handshakes for one
// subject kind. Both subjects (account, secret tag) run the same flow; the
// SubjectPolicy carries everything that differs between them.
type Flow struct {
	provider  Provider
	policy    SubjectPolicy
	envelopes *EnvelopeStore
	sessions  *HandshakeStore
	guard     *TimingGuard
	logger    *slog.Logger
	now       func() time.Time
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithTimingFloor overrides the timing-uniformity floor. A floor of 0
// disables padding (tests only — production flows always pad).
func WithTimingFloor(floor time.Duration) FlowOption {
	return func(f *Flow) {
		f.guard = NewTimingGuard(floor)
	}
}

// WithFlowLogger sets the structured logger.
func WithFlowLogger(logger *slog.Logger) FlowOption {
	return func(f *Flow) {
		f.logger = logger
	}
}

// NewFlow wires a flow for the given subject policy.
func NewFlow(provider Provider, policy SubjectPolicy, envelopes *EnvelopeStore, sessions *HandshakeStore, opts ...FlowOption) *Flow {
	f := &Flow{
		provider:  provider,
		policy:    policy,
		envelopes: envelopes,
		sessions:  sessions,
		guard:     NewTimingGuard(DefaultTimingFloor),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("flow", string(policy.Kind()))
	return f
}

// Kind returns the subject kind this flow serves.
func (f *Flow) Kind() SubjectKind {
	return f.policy.Kind()
}
