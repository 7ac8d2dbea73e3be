package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

const (
	minutesPerDay  = 24 * 60
	minutesPerWeek = 7 * minutesPerDay
)

// span is a half-open [start, end) range of minutes on the weekly timeline.
// Spans never wrap; a wrapping range is split during normalization.
type span struct {
	start int
	end   int
}

// Week is the canonical normalized schedule: a sorted, merged list of
// UNBLOCKED spans on the 0..10079 weekly minute timeline. Everything outside
// a span is BLOCKED.
type Week struct {
	spans []span
}

// Normalize reduces either spec shape to the canonical span list.
// The spec must already be valid.
func (s *Spec) Normalize() (*Week, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(s.Intervals) > 0 {
		return normalizeIntervals(s.Intervals), nil
	}
	return normalizeTriggers(s.Block, s.Unblock)
}

// normalizeIntervals maps each (day, start, end) to one span and merges.
func normalizeIntervals(intervals []WorkInterval) *Week {
	var spans []span
	for _, iv := range intervals {
		for _, d := range iv.Days {
			base := (d - 1) * minutesPerDay
			spans = append(spans, span{
				start: base + iv.Start.minuteOfDay(),
				end:   base + iv.End.minuteOfDay(),
			})
		}
	}
	return &Week{spans: mergeSpans(spans)}
}

// normalizeTriggers reproduces the legacy fire-once event model: sort all
// triggers onto a single weekly timeline; the state between a trigger and
// the next one (wrapping across the week boundary) is the state the first
// trigger fired. Each unblock trigger therefore opens an UNBLOCKED span that
// runs until the following trigger of either kind.
func normalizeTriggers(block, unblock []TimePoint) (*Week, error) {
	type event struct {
		minute    int
		unblocked bool
	}

	events := make([]event, 0, len(block)+len(unblock))
	for _, p := range block {
		events = append(events, event{minute: p.minuteOfWeek()})
	}
	for _, p := range unblock {
		events = append(events, event{minute: p.minuteOfWeek(), unblocked: true})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].minute < events[j].minute })

	for i := 1; i < len(events); i++ {
		if events[i].minute == events[i-1].minute && events[i].unblocked != events[i-1].unblocked {
			return nil, domain.NewConfigError(
				"conflicting block and unblock triggers at the same time (minute %d of week)",
				events[i].minute)
		}
	}

	var spans []span
	for i, ev := range events {
		if !ev.unblocked {
			continue
		}
		next := events[(i+1)%len(events)].minute
		if len(events) == 1 {
			// A single unblock trigger and nothing else: always unblocked.
			next = ev.minute + minutesPerWeek
		} else if next <= ev.minute {
			next += minutesPerWeek
		}
		if next > minutesPerWeek {
			// Wraps across the week boundary; split.
			spans = append(spans, span{start: ev.minute, end: minutesPerWeek})
			if rem := next - minutesPerWeek; rem > 0 {
				spans = append(spans, span{start: 0, end: rem})
			}
		} else {
			spans = append(spans, span{start: ev.minute, end: next})
		}
	}

	return &Week{spans: mergeSpans(spans)}, nil
}

// mergeSpans sorts and unions overlapping or adjacent spans.
func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end < spans[j].end
	})

	merged := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

// minuteOfWeek maps a timestamp to the weekly timeline in its own location.
// time.Weekday has Sunday=0, which lines up with weekday 1 here.
func minuteOfWeek(t time.Time) int {
	return int(t.Weekday())*minutesPerDay + t.Hour()*60 + t.Minute()
}

// DesiredState evaluates the timestamp against the normalized schedule.
// Span starts are inclusive, ends exclusive: exactly at an interval start is
// UNBLOCKED, exactly at its end is BLOCKED.
func (w *Week) DesiredState(t time.Time) domain.DesiredState {
	m := minuteOfWeek(t)
	for _, sp := range w.spans {
		if m >= sp.start && m < sp.end {
			return domain.StateUnblocked
		}
	}
	return domain.StateBlocked
}

// TriggerPoints derives the wall-clock trigger points the external scheduler
// fires at: an unblock trigger at every span start, a block trigger at every
// span end. A span wrapping the week boundary is stored split in two; the
// two edges meeting at Sunday 00:00 are not real transitions, so neither
// trigger is emitted for them.
func (w *Week) TriggerPoints() (unblock, block []domain.TriggerPoint) {
	n := len(w.spans)
	if n == 0 {
		return nil, nil
	}
	wraps := w.spans[0].start == 0 && w.spans[n-1].end == minutesPerWeek
	if wraps && n == 1 {
		// Always unblocked: nothing to fire.
		return nil, nil
	}
	for i, sp := range w.spans {
		if !wraps || i > 0 {
			unblock = append(unblock, minuteToTrigger(sp.start))
		}
		if !wraps || i < n-1 {
			block = append(block, minuteToTrigger(sp.end%minutesPerWeek))
		}
	}
	return unblock, block
}

func minuteToTrigger(m int) domain.TriggerPoint {
	return domain.TriggerPoint{
		Weekday: m/minutesPerDay + 1,
		Hour:    (m % minutesPerDay) / 60,
		Minute:  m % 60,
	}
}

// Describe renders the unblocked spans for human inspection, one per line.
func (w *Week) Describe() string {
	if len(w.spans) == 0 {
		return "always blocked"
	}
	var b strings.Builder
	for i, sp := range w.spans {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %02d:%02d - %s %02d:%02d unblocked",
			weekdayName(sp.start/minutesPerDay),
			(sp.start%minutesPerDay)/60, sp.start%60,
			weekdayName((sp.end%minutesPerWeek)/minutesPerDay),
			(sp.end%minutesPerDay)/60, sp.end%60)
	}
	return b.String()
}

func weekdayName(dayIndex int) string {
	return time.Weekday(dayIndex % 7).String()
}
