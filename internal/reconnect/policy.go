// Package reconnect re-establishes a dropped session under a fresh id,
// retrying with exponential backoff until it succeeds, the attempts
// run out or the caller cancels.
package reconnect

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	vrperr "vrpterm/internal/errors"
)

// Policy controls the backoff schedule.
type Policy struct {
	// MaxRetries is the number of connection attempts (default 10).
	MaxRetries int `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	// InitialDelay is the wait before the first attempt (default 2s).
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay" toml:"initial_delay"`
	// MaxDelay caps the wait (default 60s).
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" toml:"max_delay"`
	// Multiplier grows the wait each attempt (default 1.5).
	Multiplier float64 `json:"multiplier" yaml:"multiplier" toml:"multiplier"`
	// Jitter adds ±25% randomisation to each wait.  Status events
	// still report the unjittered delay.
	Jitter bool `json:"jitter" yaml:"jitter" toml:"jitter"`
}

// DefaultPolicy returns the stock schedule: 2s, 3s, 4.5s, ... capped at
// 60s, ten attempts.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   10,
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   1.5,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.  A nil policy
// yields the defaults.
func (p *Policy) WithDefaults() Policy {
	d := *DefaultPolicy()
	if p == nil {
		return d
	}
	out := *p
	if out.MaxRetries == 0 {
		out.MaxRetries = d.MaxRetries
	}
	if out.InitialDelay == 0 {
		out.InitialDelay = d.InitialDelay
	}
	if out.MaxDelay == 0 {
		out.MaxDelay = d.MaxDelay
	}
	if out.Multiplier == 0 {
		out.Multiplier = d.Multiplier
	}
	return out
}

// Validate rejects schedules that cannot make progress.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 1:
		return &vrperr.ConfigError{Field: "reconnect-retries", Value: p.MaxRetries, Message: "must be at least 1"}
	case p.InitialDelay < 0 || p.MaxDelay < 0:
		return &vrperr.ConfigError{Field: "reconnect-delay", Message: "delays must not be negative"}
	case p.Multiplier < 1:
		return &vrperr.ConfigError{
			Field:   "reconnect-multiplier",
			Value:   p.Multiplier,
			Message: "must be at least 1",
			Hint:    "a multiplier below 1 shrinks the delay on every attempt",
		}
	}
	return nil
}

// Delay returns the wait before attempt n (1-based):
// min(InitialDelay * Multiplier^(n-1), MaxDelay), truncated to whole
// milliseconds.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	ms := float64(p.InitialDelay.Milliseconds()) * math.Pow(p.Multiplier, float64(n-1))
	if limit := float64(p.MaxDelay.Milliseconds()); ms > limit || math.IsInf(ms, 1) {
		ms = limit
	}
	return time.Duration(int64(ms)) * time.Millisecond
}

func (p Policy) String() string {
	return fmt.Sprintf("%d attempts, %s x%.2g up to %s", p.MaxRetries, p.InitialDelay, p.Multiplier, p.MaxDelay)
}

// wait returns the actual sleep for attempt n.
func (p Policy) wait(n int) time.Duration {
	d := p.Delay(n)
	if p.Jitter {
		d = addJitter(d)
	}
	return d
}

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}
