package storage

import (
	"sort"
	"strings"
	"time"
)

// TelemetryRecord is one bot's latest telemetry snapshot. Records are
// immutable after loading; every scoring call works on the same shared
// snapshot.
type TelemetryRecord struct {
	BotName      string     `json:"bot_name"`
	BotType      string     `json:"bot_type"`
	Owner        string     `json:"owner"`
	Priority     string     `json:"priority"`
	Version      string     `json:"version"`
	LastStatus   string     `json:"last_status"`
	RunCount     int        `json:"run_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	AvgExecTime  float64    `json:"avg_execution_time_s"`
	LastRun      *time.Time `json:"last_run_timestamp,omitempty"`
}

// FailureRatio returns failures per run in [0,1], guarding the zero-run case.
func (r *TelemetryRecord) FailureRatio() float64 {
	runs := r.RunCount
	if runs < 1 {
		runs = 1
	}
	ratio := float64(r.FailureCount) / float64(runs)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// FailureRatePct returns the failure rate as a percentage, capped at 100.
func (r *TelemetryRecord) FailureRatePct() float64 {
	return r.FailureRatio() * 100
}

// IsActive reports whether the bot's last status is neither failed nor pending.
func (r *TelemetryRecord) IsActive() bool {
	status := strings.ToLower(r.LastStatus)
	return !strings.Contains(status, "failed") && !strings.Contains(status, "pending")
}

// Fleet is a read-only set of telemetry records in scope for a request.
type Fleet []TelemetryRecord

// FindBot returns the record with the given bot name, or nil.
func (f Fleet) FindBot(name string) *TelemetryRecord {
	for i := range f {
		if f[i].BotName == name {
			return &f[i]
		}
	}
	return nil
}

// FilterOwner returns the subset owned by owner; an empty owner keeps everything.
func (f Fleet) FilterOwner(owner string) Fleet {
	if owner == "" {
		return f
	}
	var out Fleet
	for _, r := range f {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out
}

// Owners returns the sorted distinct owner names.
func (f Fleet) Owners() []string {
	seen := make(map[string]bool, len(f))
	var owners []string
	for _, r := range f {
		if !seen[r.Owner] {
			seen[r.Owner] = true
			owners = append(owners, r.Owner)
		}
	}
	sort.Strings(owners)
	return owners
}

// FilterOptions narrows a fleet for the overview endpoint. Zero values
// leave the corresponding dimension unfiltered.
type FilterOptions struct {
	StartDate time.Time
	EndDate   time.Time
	BotType   string
	Status    string
	Priority  string
	Owner     string
}

// Filter applies the options to the fleet. Records without a last-run
// timestamp are excluded whenever a date bound is set.
func (f Fleet) Filter(opts FilterOptions) Fleet {
	var out Fleet
	for _, r := range f {
		if !opts.StartDate.IsZero() {
			if r.LastRun == nil || r.LastRun.Before(opts.StartDate) {
				continue
			}
		}
		if !opts.EndDate.IsZero() {
			if r.LastRun == nil || r.LastRun.After(opts.EndDate) {
				continue
			}
		}
		if opts.BotType != "" && !strings.EqualFold(r.BotType, opts.BotType) {
			continue
		}
		if opts.Status != "" && !strings.EqualFold(r.LastStatus, opts.Status) {
			continue
		}
		if opts.Priority != "" && !strings.EqualFold(r.Priority, opts.Priority) {
			continue
		}
		if opts.Owner != "" && r.Owner != opts.Owner {
			continue
		}
		out = append(out, r)
	}
	return out
}
