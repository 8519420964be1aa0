// Package streamconfig applies the functional-options pattern drand's
// core/config.go uses for Config/ConfigOption to the Streams user: a small
// bag of dependencies (logger, clock, transport, message index, base
// topic) a caller overrides selectively, leaving sane defaults otherwise.
package streamconfig

import (
	"github.com/jonboulle/clockwork"

	"github.com/drand/streams/log"
	"github.com/drand/streams/transport"
)

// DefaultBaseTopic is the topic new streams default to when the caller
// doesn't specify one.
const DefaultBaseTopic = "default"

// Option applies one setting to a Config.
type Option func(*Config)

// Config holds everything a user instance needs beyond its own Identity.
type Config struct {
	Logger       log.Logger
	BaseTopic    string
	Transport    transport.Transport
	MessageIndex transport.MessageIndex
	Clock        clockwork.Clock
}

// New returns a Config with defaults applied, then overridden by opts in
// order.
func New(opts ...Option) *Config {
	c := &Config{
		Logger:    log.DefaultLogger(),
		BaseTopic: DefaultBaseTopic,
		Clock:     clockwork.NewRealClock(),
	}
	mem := transport.NewInMemory()
	c.Transport = mem
	c.MessageIndex = mem
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithLogger overrides the logger.
func WithLogger(l log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithBaseTopic overrides the default topic new branches open under.
func WithBaseTopic(topic string) Option {
	return func(c *Config) { c.BaseTopic = topic }
}

// WithTransport overrides the send/receive port.
func WithTransport(t transport.Transport) Option {
	return func(c *Config) { c.Transport = t }
}

// WithMessageIndex overrides the MessageIndex port.
func WithMessageIndex(mi transport.MessageIndex) Option {
	return func(c *Config) { c.MessageIndex = mi }
}

// WithClock overrides the clock, e.g. with clockwork.NewFakeClock() in
// tests that need to control time-dependent behaviour deterministically.
func WithClock(c clockwork.Clock) Option {
	return func(cfg *Config) { cfg.Clock = c }
}
