// Package schedule models the declarative weekly schedule and computes the
// desired state for any timestamp. Pure: no clocks, no hidden mutable state,
// same timestamp always yields the same result.
//
// Two mutually exclusive JSON shapes are accepted and normalized into one
// canonical representation, so the evaluator has a single code path:
//
//	{"intervals": [{"days": [2,3], "start": {"Hour": 11, "Minute": 0},
//	                "end": {"Hour": 15, "Minute": 0}}]}
//
//	{"block":   [{"Hour": 16, "Minute": 0, "Weekday": 6}],
//	 "unblock": [{"Hour": 9,  "Minute": 30, "Weekday": 5}]}
//
// Weekday numbering follows the launchd calendar convention used by the
// schedule files: 1=Sunday .. 7=Saturday.
package schedule

import (
	"encoding/json"
	"fmt"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour   int `json:"Hour"`
	Minute int `json:"Minute"`
}

// minuteOfDay returns minutes since midnight.
func (t TimeOfDay) minuteOfDay() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return domain.NewConfigError("hour out of range: %d", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return domain.NewConfigError("minute out of range: %d", t.Minute)
	}
	return nil
}

// String formats as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// TimePoint is a legacy point-in-time trigger: a standalone fire-once event,
// not a range. State persists from the last fired trigger until the next
// fires.
type TimePoint struct {
	Hour    int `json:"Hour"`
	Minute  int `json:"Minute"`
	Weekday int `json:"Weekday"`
}

func (p TimePoint) validate() error {
	if err := (TimeOfDay{Hour: p.Hour, Minute: p.Minute}).validate(); err != nil {
		return err
	}
	if p.Weekday < 1 || p.Weekday > 7 {
		return domain.NewConfigError("weekday out of range: %d", p.Weekday)
	}
	return nil
}

// minuteOfWeek places the trigger on the 0..10079 weekly timeline.
func (p TimePoint) minuteOfWeek() int {
	return (p.Weekday-1)*minutesPerDay + p.Hour*60 + p.Minute
}

// WorkInterval is one allowed-work interval: a start/end pair applied to a
// set of weekdays. Start must precede end within the same day; overnight
// wraparound is not supported. Multiple intervals on the same weekday union.
type WorkInterval struct {
	Days  []int     `json:"days"`
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (iv WorkInterval) validate() error {
	if len(iv.Days) == 0 {
		return domain.NewConfigError("interval has no days")
	}
	for _, d := range iv.Days {
		if d < 1 || d > 7 {
			return domain.NewConfigError("weekday out of range: %d", d)
		}
	}
	if err := iv.Start.validate(); err != nil {
		return err
	}
	if err := iv.End.validate(); err != nil {
		return err
	}
	if iv.Start.minuteOfDay() >= iv.End.minuteOfDay() {
		return domain.NewConfigError("interval start %s is not before end %s", iv.Start, iv.End)
	}
	return nil
}

// Spec is the root schedule document. Exactly one of the two shapes must be
// populated; having both (or neither) is a configuration error rather than a
// silent precedence choice.
type Spec struct {
	Intervals []WorkInterval `json:"intervals,omitempty"`
	Block     []TimePoint    `json:"block,omitempty"`
	Unblock   []TimePoint    `json:"unblock,omitempty"`
}

// Parse decodes and validates a schedule document.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, &domain.ConfigError{Reason: "invalid schedule document", Err: err}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks shape exclusivity and field ranges.
func (s *Spec) Validate() error {
	hasIntervals := len(s.Intervals) > 0
	hasLegacy := len(s.Block) > 0 || len(s.Unblock) > 0

	switch {
	case hasIntervals && hasLegacy:
		return domain.NewConfigError("schedule mixes interval and trigger shapes; use exactly one")
	case !hasIntervals && !hasLegacy:
		return domain.NewConfigError("schedule is empty")
	}

	for _, iv := range s.Intervals {
		if err := iv.validate(); err != nil {
			return err
		}
	}
	for _, p := range s.Block {
		if err := p.validate(); err != nil {
			return err
		}
	}
	for _, p := range s.Unblock {
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}
