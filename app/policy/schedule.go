package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

const day = 24 * time.Hour

// MaxOffsetDays bounds a single schedule entry so due times stay representable.
const MaxOffsetDays = 3650

// Schedule is the ordered list of day offsets applied before each successive retry.
type Schedule []int

func ParseSchedule(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Schedule{}, nil
	}

	parts := strings.Split(raw, ",")
	out := make(Schedule, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: schedule entry %q is not an integer", ErrInvalidConfig, part)
		}
		out = append(out, n)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s Schedule) Validate() error {
	for i, offset := range s {
		if offset < 0 {
			return fmt.Errorf("%w: schedule entry %d is negative", ErrInvalidConfig, i)
		}
		if offset > MaxOffsetDays {
			return fmt.Errorf("%w: schedule entry %d exceeds %d days", ErrInvalidConfig, i, MaxOffsetDays)
		}
		if i > 0 && offset < s[i-1] {
			return fmt.Errorf("%w: schedule must be non-decreasing at entry %d", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Offset returns the delay before retry n, or false when the schedule has no slot for n.
func (s Schedule) Offset(n int) (time.Duration, bool) {
	if n < 0 || n >= len(s) {
		return 0, false
	}
	return time.Duration(s[n]) * day, true
}

func (s Schedule) String() string {
	parts := make([]string, len(s))
	for i, offset := range s {
		parts[i] = strconv.Itoa(offset)
	}
	return strings.Join(parts, ",")
}

func (s Schedule) Clone() Schedule {
	return append(Schedule{}, s...)
}
