package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines reply timing and handshake retry defaults.
type Config struct {
	// ReplyTimeout bounds how long a sent batch waits for its replies.
	ReplyTimeout time.Duration
	// HandshakeTimeout bounds one connect attempt.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds one frame write to either transport.
	WriteTimeout time.Duration
	// HandshakeAttempts caps connect attempts on transport errors and
	// timeouts; zero or less retries until the context ends. WithDefaults
	// leaves it alone.
	HandshakeAttempts int
	Backoff           BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ReplyTimeout:      30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		HandshakeAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero durations from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = def.ReplyTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
