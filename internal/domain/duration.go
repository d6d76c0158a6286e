package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that serializes as an ISO-8601 duration string
// ("P1DT2H30M"). Year and month components are rejected on input because
// they have no fixed length in seconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// String renders the canonical ISO-8601 form. Zero renders as "PT0S".
func (d Duration) String() string {
	rem := time.Duration(d)
	if rem < 0 {
		return "-" + Duration(-rem).String()
	}

	days := rem / (24 * time.Hour)
	rem -= days * 24 * time.Hour
	hours := rem / time.Hour
	rem -= hours * time.Hour
	minutes := rem / time.Minute
	rem -= minutes * time.Minute
	seconds := rem.Seconds()

	var b strings.Builder
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 || days == 0 {
		b.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if seconds > 0 || (days == 0 && hours == 0 && minutes == 0) {
			b.WriteString(strconv.FormatFloat(seconds, 'f', -1, 64))
			b.WriteByte('S')
		}
	}
	return b.String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDuration parses an ISO-8601 duration. Supported designators are weeks
// (P2W), days, hours, minutes and fractional seconds. Years and months are
// rejected. An empty component list ("P", "PT") is invalid.
func ParseDuration(s string) (Duration, error) {
	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if len(s) < 2 || s[0] != 'P' {
		return 0, BadRequest("invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	sawComponent := false
	for len(s) > 0 {
		if s[0] == 'T' {
			if inTime {
				return 0, BadRequest("invalid ISO-8601 duration %q: duplicate T", orig)
			}
			inTime = true
			s = s[1:]
			continue
		}

		numEnd := 0
		for numEnd < len(s) && (s[numEnd] >= '0' && s[numEnd] <= '9' || s[numEnd] == '.') {
			numEnd++
		}
		if numEnd == 0 || numEnd == len(s) {
			return 0, BadRequest("invalid ISO-8601 duration %q", orig)
		}
		value, err := strconv.ParseFloat(s[:numEnd], 64)
		if err != nil {
			return 0, BadRequest("invalid ISO-8601 duration %q: %v", orig, err)
		}
		unit := s[numEnd]
		s = s[numEnd+1:]

		var scale time.Duration
		switch {
		case !inTime && unit == 'Y':
			return 0, BadRequest("ISO-8601 duration %q: year components are not supported", orig)
		case !inTime && unit == 'M':
			return 0, BadRequest("ISO-8601 duration %q: month components are not supported", orig)
		case !inTime && unit == 'W':
			scale = 7 * 24 * time.Hour
		case !inTime && unit == 'D':
			scale = 24 * time.Hour
		case inTime && unit == 'H':
			scale = time.Hour
		case inTime && unit == 'M':
			scale = time.Minute
		case inTime && unit == 'S':
			scale = time.Second
		default:
			return 0, BadRequest("invalid ISO-8601 duration %q: unexpected designator %q", orig, string(unit))
		}
		total += time.Duration(value * float64(scale))
		sawComponent = true
	}
	if !sawComponent {
		return 0, BadRequest("invalid ISO-8601 duration %q: no components", orig)
	}
	if neg {
		total = -total
	}
	return Duration(total), nil
}
