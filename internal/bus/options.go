package bus

import (
	"time"

	"github.com/danmuck/canlink/internal/protocol/frame"
	"github.com/danmuck/canlink/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Option configures an Endpoint at construction.
type Option func(*Endpoint)

// WithConfig sets retry and timing configuration.
func WithConfig(cfg session.Config) Option {
	return func(e *Endpoint) {
		e.cfg = cfg
	}
}

// WithName sets the node name used in logs and metrics.
func WithName(name string) Option {
	return func(e *Endpoint) {
		e.name = name
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Endpoint) {
		e.log = l
		e.customLog = true
	}
}

// WithAddress sets this node's bus address. Unless promiscuous, data frames
// addressed to neither this node nor broadcast are ignored; acknowledgments
// always pass.
func WithAddress(address uint8, promiscuous bool) Option {
	return func(e *Endpoint) {
		e.address = address & frame.MaxAddr
		e.filter = !promiscuous
	}
}

// WithClock overrides the time source used for reassembly expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Endpoint) {
		if now != nil {
			e.now = now
		}
	}
}

// WithErrorHandler sets the delivery-failure callback.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(e *Endpoint) {
		e.onError = fn
	}
}
