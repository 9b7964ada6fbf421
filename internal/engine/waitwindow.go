package engine

import (
	"math"
	"strings"
	"time"

	"github.com/relaycrm/relay-go/internal/domain"
)

type DelayUnit string

const (
	UnitMinutes DelayUnit = "minutes"
	UnitHours   DelayUnit = "hours"
	UnitDays    DelayUnit = "days"
	UnitWeeks   DelayUnit = "weeks"
)

var unitDurations = map[DelayUnit]time.Duration{
	UnitMinutes: time.Minute,
	UnitHours:   time.Hour,
	UnitDays:    24 * time.Hour,
	UnitWeeks:   7 * 24 * time.Hour,
}

var unitAliases = map[string]DelayUnit{
	"m": UnitMinutes, "min": UnitMinutes, "mins": UnitMinutes, "minute": UnitMinutes, "minutes": UnitMinutes,
	"h": UnitHours, "hr": UnitHours, "hrs": UnitHours, "hour": UnitHours, "hours": UnitHours,
	"d": UnitDays, "day": UnitDays, "days": UnitDays,
	"w": UnitWeeks, "wk": UnitWeeks, "wks": UnitWeeks, "week": UnitWeeks, "weeks": UnitWeeks,
}

// ParseDelayUnit accepts plural, singular and short forms. Anything else is
// reported as not ok so the caller can fall back.
func ParseDelayUnit(value string) (DelayUnit, bool) {
	u, ok := unitAliases[strings.ToLower(strings.TrimSpace(value))]
	return u, ok
}

// WaitWindow is how long a delivered step stays outstanding.
type WaitWindow struct {
	Value float64
	Unit  DelayUnit
}

// validDelay reports whether value units of unit is a finite, non-negative
// span that fits in a time.Duration.
func validDelay(value float64, unit DelayUnit) bool {
	d, ok := unitDurations[unit]
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return false
	}
	return value*float64(d) < math.MaxInt64
}

// WaitWindowFrom reads delay (or interval) and delayUnit from metadata.
// Missing or unusable values take the defaults; an unknown unit means days.
// A value that is not finite or too large for the resolved unit falls back
// to the default value.
func WaitWindowFrom(meta domain.Metadata, defaults WaitWindow) WaitWindow {
	w := defaults
	if _, ok := unitDurations[w.Unit]; !ok {
		w.Unit = UnitDays
	}
	if raw := meta.String("delayUnit"); raw != "" {
		if u, ok := ParseDelayUnit(raw); ok {
			w.Unit = u
		} else {
			w.Unit = UnitDays
		}
	}
	if v, ok := meta.Number("delay"); ok && validDelay(v, w.Unit) {
		w.Value = v
	} else if v, ok := meta.Number("interval"); ok && validDelay(v, w.Unit) {
		w.Value = v
	}
	if !validDelay(w.Value, w.Unit) {
		// The default value in the metadata's unit overflows.
		w = defaults
	}
	return w
}

func (w WaitWindow) Duration() time.Duration {
	return time.Duration(w.Value * float64(unitDurations[w.Unit]))
}

func (w WaitWindow) Until(sentAt time.Time) time.Time {
	return sentAt.Add(w.Duration())
}
