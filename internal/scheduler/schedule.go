// Package scheduler runs periodic maintenance against the state store.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	ScheduleKindCron     = "cron"
	ScheduleKindInterval = "interval"
)

// ScheduleSpec is a parsed sweep schedule.
type ScheduleSpec struct {
	Kind     string
	CronExpr string
	Interval time.Duration
	Timezone string

	location     *time.Location
	cronSchedule cron.Schedule
}

// ParseSchedule accepts a Go duration ("10m"), a descriptor ("@hourly",
// "@every 5m") or a five-field cron expression evaluated in timezone.
func ParseSchedule(expr, timezone string) (ScheduleSpec, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return ScheduleSpec{}, fmt.Errorf("schedule expression is required")
	}

	trimmedTimezone := firstNonEmpty(strings.TrimSpace(timezone), "UTC")
	location, err := time.LoadLocation(trimmedTimezone)
	if err != nil {
		return ScheduleSpec{}, fmt.Errorf("invalid timezone: %w", err)
	}

	if d, err := time.ParseDuration(trimmed); err == nil {
		if d <= 0 {
			return ScheduleSpec{}, fmt.Errorf("interval must be greater than zero")
		}
		return ScheduleSpec{Kind: ScheduleKindInterval, Interval: d, Timezone: trimmedTimezone, location: location}, nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	parsed, err := parser.Parse(trimmed)
	if err != nil {
		return ScheduleSpec{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return ScheduleSpec{
		Kind:         ScheduleKindCron,
		CronExpr:     trimmed,
		Timezone:     trimmedTimezone,
		location:     location,
		cronSchedule: parsed,
	}, nil
}

// Every is an interval schedule.
func Every(d time.Duration) ScheduleSpec {
	return ScheduleSpec{Kind: ScheduleKindInterval, Interval: d, Timezone: "UTC", location: time.UTC}
}

// ComputeNextRun returns the first run strictly after now.
func ComputeNextRun(spec ScheduleSpec, now time.Time) (time.Time, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if spec.location == nil {
		location, err := time.LoadLocation(firstNonEmpty(strings.TrimSpace(spec.Timezone), "UTC"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		spec.location = location
	}

	switch spec.Kind {
	case ScheduleKindInterval:
		if spec.Interval <= 0 {
			return time.Time{}, fmt.Errorf("interval schedule requires a positive interval")
		}
		return now.Add(spec.Interval), nil
	case ScheduleKindCron:
		if spec.cronSchedule == nil {
			parsed, err := ParseSchedule(spec.CronExpr, spec.Timezone)
			if err != nil {
				return time.Time{}, err
			}
			spec.cronSchedule = parsed.cronSchedule
		}
		return spec.cronSchedule.Next(now.In(spec.location)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported schedule kind: %s", spec.Kind)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
