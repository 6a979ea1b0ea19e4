package ical

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

// TriggerKind classifies how an alarm trigger resolves to an instant.
type TriggerKind int

const (
	// TriggerRelativeStart fires at occurrence start plus an offset.
	TriggerRelativeStart TriggerKind = iota
	// TriggerRelativeEnd fires at occurrence end plus an offset.
	TriggerRelativeEnd
	// TriggerAbsolute fires at a fixed instant regardless of occurrence.
	TriggerAbsolute
)

// Trigger is one alarm's fire rule.
type Trigger struct {
	Kind   TriggerKind
	Offset time.Duration // relative kinds
	At     time.Time     // absolute kind
}

// parseTrigger decodes a TRIGGER property. Duration values are relative to
// the occurrence start, or to its end when RELATED=END is present;
// DATE-TIME values are absolute.
func parseTrigger(p *ics.IANAProperty) (*Trigger, error) {
	val := strings.TrimSpace(p.Value)
	if val == "" {
		return nil, errors.New("empty trigger value")
	}

	if strings.EqualFold(firstParam(p, "VALUE"), "DATE-TIME") || !strings.ContainsAny(val, "Pp") {
		at, err := parseTimeValue(val, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("absolute trigger: %w", err)
		}
		return &Trigger{Kind: TriggerAbsolute, At: at}, nil
	}

	d, err := ParseDuration(val)
	if err != nil {
		return nil, err
	}

	kind := TriggerRelativeStart
	if strings.EqualFold(firstParam(p, "RELATED"), "END") {
		kind = TriggerRelativeEnd
	}
	return &Trigger{Kind: kind, Offset: d}, nil
}

// ParseDuration decodes an iCalendar (ISO-8601 subset) duration such as
// "-PT15M", "PT1H30M", "P1D" or "P2W". Months and years are not part of the
// iCalendar duration grammar.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	s = strings.TrimSpace(s)

	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	if len(s) == 0 || (s[0] != 'P' && s[0] != 'p') {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	parts := 0
	num := ""
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num += string(c)
			continue
		case c == 'T' || c == 't':
			inTime = true
			continue
		}

		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", orig)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", orig, err)
		}
		num = ""

		switch {
		case c == 'W' || c == 'w':
			total += time.Duration(n) * 7 * 24 * time.Hour
		case c == 'D' || c == 'd':
			total += time.Duration(n) * 24 * time.Hour
		case (c == 'H' || c == 'h') && inTime:
			total += time.Duration(n) * time.Hour
		case (c == 'M' || c == 'm') && inTime:
			total += time.Duration(n) * time.Minute
		case (c == 'S' || c == 's') && inTime:
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration designator %q in %q", string(c), orig)
		}
		parts++
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q: trailing digits", orig)
	}
	if parts == 0 {
		return 0, fmt.Errorf("invalid duration %q: no components", orig)
	}

	if neg {
		total = -total
	}
	return total, nil
}
