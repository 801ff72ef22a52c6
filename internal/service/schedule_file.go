package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScheduleDefinition is one entry of a schedule file:
//
//	schedules:
//	  - job: reports.daily
//	    every: 24h
//	    params:
//	      region: us
//	  - job: cleanup
//	    every: 15m
//	    enabled: false
type ScheduleDefinition struct {
	Job     string         `yaml:"job"`
	Every   time.Duration  `yaml:"every"`
	Enabled *bool          `yaml:"enabled,omitempty"`
	Params  map[string]any `yaml:"params,omitempty"`
}

// IsEnabled defaults to true when the file does not say otherwise.
func (d ScheduleDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

type scheduleFile struct {
	Schedules []ScheduleDefinition `yaml:"schedules"`
}

// LoadScheduleFile reads schedule definitions from a YAML file.
func LoadScheduleFile(path string) ([]ScheduleDefinition, error) {
	raw, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	defs, err := ParseSchedules(raw)
	if err != nil {
		return nil, fmt.Errorf("parse schedule file %s: %w", path, err)
	}
	return defs, nil
}

// ParseSchedules decodes schedule definitions and rejects duplicates and bad intervals.
func ParseSchedules(raw []byte) ([]ScheduleDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var f scheduleFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	seen := make(map[string]struct{}, len(f.Schedules))
	for i := range f.Schedules {
		d := &f.Schedules[i]
		d.Job = strings.TrimSpace(d.Job)
		if d.Job == "" {
			return nil, fmt.Errorf("schedule %d: job is required", i)
		}
		if d.Every < time.Second {
			return nil, fmt.Errorf("schedule %s: every must be at least 1s", d.Job)
		}
		if _, dup := seen[d.Job]; dup {
			return nil, fmt.Errorf("schedule %s: defined more than once", d.Job)
		}
		seen[d.Job] = struct{}{}
	}
	return f.Schedules, nil
}
