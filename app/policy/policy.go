package policy

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

const (
	KeyRetryDays          = "payment.retry.days"
	KeyPluginStartSeconds = "payment.plugin.retry.start.sec"
	KeyPluginMultiplier   = "payment.plugin.retry.multiplier"
	KeyPluginMaxAttempts  = "payment.plugin.retry.max.attempts"
)

const maxPluginInterval = 7 * day

var knownKeys = map[string]struct{}{
	KeyRetryDays:          {},
	KeyPluginStartSeconds: {},
	KeyPluginMultiplier:   {},
	KeyPluginMaxAttempts:  {},
}

type PluginBackoff struct {
	Start       time.Duration
	Multiplier  float64
	MaxAttempts int
}

type RetryPolicy struct {
	Days   Schedule
	Plugin PluginBackoff
}

func Default() RetryPolicy {
	return RetryPolicy{
		Days: Schedule{8, 8, 8},
		Plugin: PluginBackoff{
			Start:       300 * time.Second,
			Multiplier:  2,
			MaxAttempts: 8,
		},
	}
}

func (p RetryPolicy) Validate() error {
	if err := p.Days.Validate(); err != nil {
		return err
	}
	if p.Plugin.MaxAttempts < 0 {
		return fmt.Errorf("%w: plugin max attempts must be >= 0", ErrInvalidConfig)
	}
	if p.Plugin.MaxAttempts > 0 {
		if p.Plugin.Start <= 0 {
			return fmt.Errorf("%w: plugin start must be > 0", ErrInvalidConfig)
		}
		if p.Plugin.Multiplier < 1 {
			return fmt.Errorf("%w: plugin multiplier must be >= 1", ErrInvalidConfig)
		}
	}
	return nil
}

// Fingerprint identifies the effective policy. Campaigns remember the fingerprint their
// due time was computed with.
func (p RetryPolicy) Fingerprint() string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d|%g|%d", p.Days.String(), p.Plugin.Start, p.Plugin.Multiplier, p.Plugin.MaxAttempts)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Override is a validated tenant upload. Unset fields inherit the system defaults when
// the override is applied.
type Override struct {
	Days              *Schedule
	PluginStart       *time.Duration
	PluginMultiplier  *float64
	PluginMaxAttempts *int
}

// ParseOverride validates a raw tenant key/value mapping.
func ParseOverride(values map[string]string) (*Override, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: config is empty", ErrInvalidConfig)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := &Override{}
	for _, key := range keys {
		if _, ok := knownKeys[key]; !ok {
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, key)
		}
		raw := strings.TrimSpace(values[key])

		switch key {
		case KeyRetryDays:
			schedule, err := ParseSchedule(raw)
			if err != nil {
				return nil, err
			}
			out.Days = &schedule
		case KeyPluginStartSeconds:
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidConfig, key)
			}
			start := time.Duration(n) * time.Second
			out.PluginStart = &start
		case KeyPluginMultiplier:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil || f < 1 {
				return nil, fmt.Errorf("%w: %s must be a number >= 1", ErrInvalidConfig, key)
			}
			out.PluginMultiplier = &f
		case KeyPluginMaxAttempts:
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidConfig, key)
			}
			out.PluginMaxAttempts = &n
		}
	}

	return out, nil
}

func (p RetryPolicy) Clone() RetryPolicy {
	return RetryPolicy{Days: p.Days.Clone(), Plugin: p.Plugin}
}

func (o *Override) Apply(defaults RetryPolicy) RetryPolicy {
	out := defaults.Clone()
	if o == nil {
		return out
	}
	if o.Days != nil {
		out.Days = o.Days.Clone()
	}
	if o.PluginStart != nil {
		out.Plugin.Start = *o.PluginStart
	}
	if o.PluginMultiplier != nil {
		out.Plugin.Multiplier = *o.PluginMultiplier
	}
	if o.PluginMaxAttempts != nil {
		out.Plugin.MaxAttempts = *o.PluginMaxAttempts
	}
	return out
}

// NextRetry returns when the retry following failure n (zero based) is due, or false
// when the policy has no slot left for that kind of failure.
func (p RetryPolicy) NextRetry(kind entity.FailureKind, n int, failedAt time.Time) (time.Time, bool) {
	if kind == entity.FailurePlugin {
		delay, ok := p.Plugin.delay(n, failedAt)
		if !ok {
			return time.Time{}, false
		}
		return failedAt.Add(delay), true
	}

	offset, ok := p.Days.Offset(n)
	if !ok {
		return time.Time{}, false
	}
	return failedAt.Add(offset), true
}

func (b PluginBackoff) delay(n int, at time.Time) (time.Duration, bool) {
	if n < 0 || n >= b.MaxAttempts || b.Start <= 0 {
		return 0, false
	}

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     b.Start,
		RandomizationFactor: 0,
		Multiplier:          b.Multiplier,
		MaxInterval:         maxPluginInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               fixedClock(at),
	}
	exp.Reset()

	var d time.Duration
	for i := 0; i <= n; i++ {
		d = exp.NextBackOff()
	}
	return d, true
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }
