// Package pipeline resolves pipeline specs into a denormalized context and
// drives create/delete of the surrounding resources (catalog table, schedule,
// bucket policy) through external client interfaces.
package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/loghub/etl-core/pkg/partition"
)

// SourceSpec locates the staging data a pipeline consumes.
type SourceSpec struct {
	Type   string `yaml:"type"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// DestinationSpec locates the archive data and its catalog table.
type DestinationSpec struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// GrafanaSpec points at the dashboard resources a pipeline imports. Consumed
// by an external dashboard client, carried here untouched.
type GrafanaSpec struct {
	URL         string `yaml:"url"`
	DashboardID string `yaml:"dashboardId"`
}

// Spec is a pipeline definition as written in YAML.
type Spec struct {
	ID               string          `yaml:"id"`
	Name             string          `yaml:"name"`
	Source           SourceSpec      `yaml:"source"`
	Destination      DestinationSpec `yaml:"destination"`
	Schedule         string          `yaml:"schedule"`
	StateMachineName string          `yaml:"stateMachineName"`
	Grafana          GrafanaSpec     `yaml:"grafana"`
}

// Context is a fully-resolved pipeline: the Spec plus everything derived
// from it that the builders and the ledger's time-range queries consume.
type Context struct {
	Spec

	// NotificationPrefix is the longest literal source prefix usable for
	// object-created notifications.
	NotificationPrefix string
	// CronExpression is the normalized schedule accepted by the scheduler.
	CronExpression string
}

// LoadSpec reads and parses a YAML pipeline spec file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline spec: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec parses YAML pipeline spec bytes.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline spec: %w", err)
	}
	return &spec, nil
}

// BuildContext validates a spec and derives its context.
func BuildContext(spec *Spec) (*Context, error) {
	switch {
	case spec.ID == "":
		return nil, fmt.Errorf("pipeline id is required")
	case spec.Source.Bucket == "" || spec.Source.Prefix == "":
		return nil, fmt.Errorf("pipeline %s: source bucket and prefix are required", spec.ID)
	case spec.Destination.Bucket == "":
		return nil, fmt.Errorf("pipeline %s: destination bucket is required", spec.ID)
	}

	expression, err := NormalizeSchedule(spec.Schedule)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", spec.ID, err)
	}

	return &Context{
		Spec:               *spec,
		NotificationPrefix: partition.NotificationPrefix(spec.Source.Prefix),
		CronExpression:     expression,
	}, nil
}

// NormalizeSchedule validates a schedule expression and returns the form the
// scheduler consumes. Accepted inputs are a standard 5-field cron expression
// or the `rate(N unit)` shorthand, which normalizes to an @every descriptor.
func NormalizeSchedule(schedule string) (string, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return "", fmt.Errorf("schedule is required")
	}

	if inner, ok := cutRate(schedule); ok {
		every, err := rateToEvery(inner)
		if err != nil {
			return "", err
		}
		schedule = every
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return schedule, nil
}

func cutRate(schedule string) (string, bool) {
	if !strings.HasPrefix(schedule, "rate(") || !strings.HasSuffix(schedule, ")") {
		return "", false
	}
	return schedule[len("rate(") : len(schedule)-1], true
}

func rateToEvery(inner string) (string, error) {
	fields := strings.Fields(inner)
	if len(fields) != 2 {
		return "", fmt.Errorf("invalid rate expression %q", inner)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid rate value %q", fields[0])
	}
	switch strings.TrimSuffix(fields[1], "s") {
	case "minute":
		return fmt.Sprintf("@every %dm", n), nil
	case "hour":
		return fmt.Sprintf("@every %dh", n), nil
	case "day":
		return fmt.Sprintf("@every %dh", n*24), nil
	}
	return "", fmt.Errorf("invalid rate unit %q", fields[1])
}
