package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/satisfy/internal/clock"
	"github.com/roach88/satisfy/internal/ir"
)

// DefaultReferenceFact is the fact a delay condition measures from when its
// value does not name one.
const DefaultReferenceFact = "start"

// MaxDelayMs is the largest delay a time.Duration can hold, about 292 years.
const MaxDelayMs = math.MaxInt64 / int64(time.Millisecond)

// delayCondition is satisfied once a threshold has elapsed since a reference
// timestamp taken from the facts.
//
// The reference fact is read once, at construction. If it is absent the
// delay counts from construction time. The timer is armed by Start for
// max(deadline-now, 0); an already elapsed deadline still fires on the next
// turn.
type delayCondition struct {
	cctx      ConditionContext
	deadline  time.Time
	timer     clock.Timer
	fired     bool
	disposed  bool
	threshold time.Duration
}

// NewDelayFactory returns the factory for the "delay" type.
//
// Accepted values:
//
//	1000                          // ms since the default reference fact
//	{ms: 1000, since: "keyedInAt"} // ms since the named fact
//
// The reference fact is an integer of Unix milliseconds or an RFC 3339 string.
func NewDelayFactory(referenceFact string) ConditionFactory {
	if referenceFact == "" {
		referenceFact = DefaultReferenceFact
	}

	return func(spec ir.ConditionSpec, cctx ConditionContext) (Condition, error) {
		threshold, factName, err := parseDelayValue(spec.Value, referenceFact)
		if err != nil {
			return nil, err
		}

		now := cctx.Clock.Now()
		reference := now
		if v, ok := cctx.Facts.Fact(factName); ok {
			ts, err := timestampFromValue(v)
			if err != nil {
				cctx.Logger.Warn("reference fact is not a timestamp, counting from registration",
					"fact", factName,
					"error", err,
				)
			} else {
				reference = ts
			}
		} else {
			cctx.Logger.Debug("reference fact absent, counting from registration", "fact", factName)
		}

		return &delayCondition{
			cctx:      cctx,
			deadline:  reference.Add(threshold),
			threshold: threshold,
		}, nil
	}
}

func parseDelayValue(v ir.Value, defaultFact string) (time.Duration, string, error) {
	switch val := v.(type) {
	case ir.Int:
		d, err := delayDuration(int64(val))
		if err != nil {
			return 0, "", err
		}
		return d, defaultFact, nil

	case ir.Object:
		ms, ok := val["ms"].(ir.Int)
		if !ok {
			return 0, "", fmt.Errorf("delay object requires integer field \"ms\"")
		}
		d, err := delayDuration(int64(ms))
		if err != nil {
			return 0, "", err
		}
		fact := defaultFact
		if since, present := val["since"]; present {
			s, ok := since.(ir.String)
			if !ok || s == "" {
				return 0, "", fmt.Errorf("delay field \"since\" must be a non-empty string")
			}
			fact = string(s)
		}
		for k := range val {
			if k != "ms" && k != "since" {
				return 0, "", fmt.Errorf("delay object has unknown field %q", k)
			}
		}
		return d, fact, nil

	default:
		return 0, "", fmt.Errorf("delay value must be an integer (ms) or {ms, since}, got %T", v)
	}
}

func delayDuration(ms int64) (time.Duration, error) {
	if ms < 0 {
		return 0, fmt.Errorf("delay must be non-negative, got %d", ms)
	}
	if ms > MaxDelayMs {
		return 0, fmt.Errorf("delay %dms exceeds the maximum of %dms", ms, MaxDelayMs)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// timestampFromValue interprets a fact as a point in time.
func timestampFromValue(v ir.Value) (time.Time, error) {
	switch val := v.(type) {
	case ir.Int:
		return time.UnixMilli(int64(val)), nil
	case ir.String:
		t, err := time.Parse(time.RFC3339Nano, string(val))
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", val, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func (c *delayCondition) Start() {
	if c.disposed || c.fired {
		return
	}
	remaining := c.deadline.Sub(c.cctx.Clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	c.cctx.Logger.Debug("delay armed", "threshold", c.threshold, "remaining", remaining)
	c.timer = c.cctx.Schedule(remaining, c.expire)
}

func (c *delayCondition) expire() {
	if c.disposed || c.fired {
		return
	}
	c.fired = true
	c.timer = nil
	c.cctx.Satisfy()
}

func (c *delayCondition) Dispose() {
	if c.disposed {
		return
	}
	c.disposed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
