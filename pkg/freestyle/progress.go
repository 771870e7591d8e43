// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

// Progress describes one protocol step of a session operation. Observers
// receive a notification before and after each sub-operation, in order,
// on the calling goroutine.
type Progress struct {
	Step    int
	Total   int
	Message string
}

// ProgressFunc observes session progress. A panicking observer is recovered
// and logged; it never aborts the operation that produced the notification.
type ProgressFunc func(Progress)

// notify invokes the progress observer, shielding the session from observer
// panics.
func (s *Session) notify(step, total int, message string) {
	if s.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Warn().
					Str("session", s.id.String()).
					Str("message", message).
					Msg("progress observer panicked")
			}
		}
	}()
	s.progress(Progress{Step: step, Total: total, Message: message})
}
