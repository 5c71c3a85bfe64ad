package taskloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// defaultMaxPollInterval caps a single readiness wait. Wake-ups and staged
// work interrupt a wait in progress, so the cap is a backstop bounding one
// uninterrupted sleep, not the loop's reaction time.
const defaultMaxPollInterval = 10 * time.Second

// loopOptions holds configuration applied at Loop creation.
type loopOptions struct {
	logger          *logiface.Logger[logiface.Event]
	sink            EventSink
	maxPollInterval time.Duration
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a logiface logger to the Loop. The loop logs loop
// lifecycle at debug level and unhandled task failures at warning level.
// A nil logger is valid and disables logging, which is also the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithSink attaches an EventSink observing every task lifecycle
// transition. A nil sink is valid and is the default; it costs a single
// nil check per transition.
func WithSink(sink EventSink) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.sink = sink
		return nil
	}}
}

// WithMaxPollInterval caps the longest single readiness wait. Context
// cancellation and staged work interrupt a wait in progress, so the cap is
// a backstop bounding one uninterrupted sleep rather than a responsiveness
// knob. The default is 10 seconds.
func WithMaxPollInterval(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return fmt.Errorf("taskloop: max poll interval must be positive, got %v", d)
		}
		opts.maxPollInterval = d
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances over the defaults.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		maxPollInterval: defaultMaxPollInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
