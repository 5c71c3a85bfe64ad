package taskloop

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ZerologSink is an EventSink that forwards transitions to a zerolog
// logger, for programs observing a loop without adopting logiface.
// Routine transitions log at trace level, terminal ones at debug, and
// unhandled failures at warn.
//
// Unhandled failures are rate limited: a producer that keeps failing can
// emit them at loop frequency. Suppressed failures are counted and the
// count is attached to the next warning that passes the limiter.
type ZerologSink struct {
	log        zerolog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewZerologSink wraps log in a sink allowing at most perSec unhandled
// failure warnings per second (minimum 1). Other transitions are not
// limited; they are filtered by the logger's level instead.
func NewZerologSink(log zerolog.Logger, perSec int) *ZerologSink {
	rps := max(1, perSec)
	return &ZerologSink{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Emit implements EventSink.
func (s *ZerologSink) Emit(e Event) {
	switch e.Kind {
	case EventUnhandledFailure:
		if !s.limiter.Allow() {
			s.suppressed.Add(1)
			return
		}
		ev := s.log.Warn().Uint64("task", uint64(e.Task)).Err(e.Err)
		if e.Label != "" {
			ev = ev.Str("label", e.Label)
		}
		if n := s.suppressed.Swap(0); n > 0 {
			ev = ev.Uint64("suppressed", n)
		}
		ev.Msg("unhandled task failure")
	case EventDone, EventFailed, EventCanceled:
		ev := s.log.Debug().Uint64("task", uint64(e.Task))
		if e.Label != "" {
			ev = ev.Str("label", e.Label)
		}
		if e.Err != nil {
			ev = ev.Err(e.Err)
		}
		ev.Msg(e.Kind.String())
	default:
		ev := s.log.Trace().Uint64("task", uint64(e.Task))
		if e.Label != "" {
			ev = ev.Str("label", e.Label)
		}
		if e.Kind == EventResumed {
			ev = ev.Str("reason", e.Reason.String())
		}
		ev.Msg(e.Kind.String())
	}
}
