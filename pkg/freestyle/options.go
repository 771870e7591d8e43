// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"time"

	"github.com/loopholelabs/logging/types"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger attaches a structured logger. A nil logger disables logging.
func WithLogger(log types.Logger) Option {
	return func(s *Session) {
		s.logger = log
	}
}

// WithProgress attaches a progress observer invoked synchronously around
// every protocol step.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Session) {
		s.progress = fn
	}
}

// WithInterface selects the USB interface number claimed on connect.
func WithInterface(iface int) Option {
	return func(s *Session) {
		s.iface = iface
	}
}

// WithWriteRetries sets the attempt budget for each initialization write.
func WithWriteRetries(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.writeRetries = n
		}
	}
}

// WithRetryDelay sets the pause between initialization write attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Session) {
		s.retryDelay = d
	}
}

// WithReadTimeout bounds the best-effort reads that follow handshake
// writes.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.readTimeout = d
	}
}

// WithWakeSettle sets the pause between the wake-up exchange and the first
// init command. Meters observed in the field were given a full minute here;
// the short default works on every unit tested.
func WithWakeSettle(d time.Duration) Option {
	return func(s *Session) {
		s.wakeSettle = d
	}
}

// WithQueryAttempts sets how many reads a text-command query accumulates
// before giving up on a completion marker.
func WithQueryAttempts(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queryAttempts = n
		}
	}
}

// WithQueryReadTimeout bounds each individual read inside a text-command
// query.
func WithQueryReadTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.queryReadTimeout = d
	}
}
