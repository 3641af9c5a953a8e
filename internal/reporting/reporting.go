// Package reporting derives fleet-level aggregations from a telemetry
// snapshot. Everything here is pure: same records in, same report out,
// with no state held between calls.
package reporting

import (
	"math"
	"sort"
	"time"

	"github.com/fleetsight/fleetsight/internal/storage"
)

const dayFormat = "2006-01-02"

// OverviewPoint is one calendar day in the overview time series.
type OverviewPoint struct {
	Timestamp        string  `json:"timestamp"`
	ActiveBots       int     `json:"active_bots"`
	SuccessRate      float64 `json:"success_rate"`
	AvgExecutionTime float64 `json:"avg_execution_time"`
}

// Overview is the fleet totals view over a (possibly filtered) snapshot.
type Overview struct {
	TotalBots        int             `json:"total_bots"`
	ActiveBots       int             `json:"active_bots"`
	AvgSuccessRate   float64         `json:"avg_success_rate"`
	AvgExecutionTime float64         `json:"avg_execution_time_s"`
	TimeSeries       []OverviewPoint `json:"time_series"`
}

// BuildOverview computes totals and the per-day series for the given
// records. The caller applies any filtering first.
func BuildOverview(fleet storage.Fleet) *Overview {
	out := &Overview{
		TotalBots:  len(fleet),
		TimeSeries: []OverviewPoint{},
	}

	successSum, execSum := 0.0, 0.0
	n := 0
	for i := range fleet {
		r := &fleet[i]
		if r.IsActive() {
			out.ActiveBots++
		}
		if !math.IsNaN(r.SuccessRate) && !math.IsNaN(r.AvgExecTime) {
			successSum += r.SuccessRate
			execSum += r.AvgExecTime
			n++
		}
	}
	if n > 0 {
		out.AvgSuccessRate = math.Round(successSum/float64(n)*100) / 100
		out.AvgExecutionTime = execSum / float64(n)
	}

	for _, day := range groupByDay(fleet) {
		point := OverviewPoint{Timestamp: day.date}
		sSum, eSum := 0.0, 0.0
		for _, r := range day.records {
			if r.IsActive() {
				point.ActiveBots++
			}
			sSum += r.SuccessRate
			eSum += r.AvgExecTime
		}
		point.SuccessRate = sSum / float64(len(day.records))
		point.AvgExecutionTime = eSum / float64(len(day.records))
		out.TimeSeries = append(out.TimeSeries, point)
	}
	return out
}

// ErrorsReport is the failure breakdown view.
type ErrorsReport struct {
	FailureByStatus map[string]int            `json:"failure_by_status"`
	Recent          []storage.TelemetryRecord `json:"recent"`
	Users           []string                  `json:"users"`
	SelectedUser    string                    `json:"selected_user"`
}

// BuildErrors sums failures by last status (zero-failure statuses are
// omitted) and lists the 20 most recently run records. The user list
// always covers the whole fleet; the breakdown honors the filter.
func BuildErrors(fleet storage.Fleet, selectedUser string) *ErrorsReport {
	filtered := fleet.FilterOwner(selectedUser)

	byStatus := make(map[string]int)
	for i := range filtered {
		r := &filtered[i]
		if r.FailureCount > 0 {
			byStatus[r.LastStatus] += r.FailureCount
		}
	}

	recent := append(storage.Fleet{}, filtered...)
	sort.SliceStable(recent, func(a, b int) bool {
		ta, tb := recent[a].LastRun, recent[b].LastRun
		if ta == nil {
			return false
		}
		if tb == nil {
			return true
		}
		return ta.After(*tb)
	})
	if len(recent) > 20 {
		recent = recent[:20]
	}

	return &ErrorsReport{
		FailureByStatus: byStatus,
		Recent:          recent,
		Users:           fleet.Owners(),
		SelectedUser:    selectedUser,
	}
}

// PerformancePoint is one calendar day in the success-rate series.
type PerformancePoint struct {
	Date           string  `json:"date"`
	AvgSuccessRate float64 `json:"avg_success_rate"`
	TotalBots      int     `json:"total_bots"`
}

// BotPerformance pairs one bot with its headline performance numbers.
type BotPerformance struct {
	BotName          string  `json:"bot_name"`
	AvgExecutionTime float64 `json:"avg_execution_time_s"`
	SuccessRate      float64 `json:"success_rate"`
}

// PerformanceReport is the per-bot performance view.
type PerformanceReport struct {
	Performance []BotPerformance   `json:"performance"`
	TimeSeries  []PerformancePoint `json:"time_series"`
}

func BuildPerformance(fleet storage.Fleet) *PerformanceReport {
	out := &PerformanceReport{
		Performance: make([]BotPerformance, 0, len(fleet)),
		TimeSeries:  []PerformancePoint{},
	}
	for i := range fleet {
		r := &fleet[i]
		out.Performance = append(out.Performance, BotPerformance{
			BotName:          r.BotName,
			AvgExecutionTime: r.AvgExecTime,
			SuccessRate:      r.SuccessRate,
		})
	}

	for _, day := range groupByDay(fleet) {
		sum := 0.0
		for _, r := range day.records {
			sum += r.SuccessRate
		}
		out.TimeSeries = append(out.TimeSeries, PerformancePoint{
			Date:           day.date,
			AvgSuccessRate: sum / float64(len(day.records)),
			TotalBots:      len(day.records),
		})
	}
	return out
}

// UserBot is one bot inside a per-owner listing.
type UserBot struct {
	Name        string  `json:"name"`
	TotalRuns   int     `json:"total_runs"`
	SuccessRate float64 `json:"success_rate"`
	AvgExecTime float64 `json:"avg_exec_time"`
	ErrorCount  int     `json:"error_count"`
}

// OwnerInsight aggregates one owner's bots.
type OwnerInsight struct {
	Owner          string  `json:"owner"`
	BotCount       int     `json:"bot_count"`
	TotalFailures  int     `json:"total_failures"`
	TotalRuns      int     `json:"total_runs"`
	AvgSuccessRate float64 `json:"avg_success_rate"`
}

// DailyTrends groups run counts and success rates by calendar day.
type DailyTrends struct {
	RunCount    map[string]int     `json:"run_count"`
	SuccessRate map[string]float64 `json:"success_rate"`
}

// DashboardAggregates is the reporting half of the dashboard payload;
// the analyzer supplies the model-derived half.
type DashboardAggregates struct {
	TotalRuns          int                  `json:"total_runs"`
	SuccessRate        float64              `json:"success_rate"`
	AvgExecutionTime   float64              `json:"avg_execution_time"`
	TotalErrors        int                  `json:"total_errors"`
	Users              []string             `json:"users"`
	UserBots           map[string][]UserBot `json:"userBots"`
	StatusDistribution map[string]int       `json:"status_distribution"`
	DailyTrends        DailyTrends          `json:"daily_trends"`
	OwnerInsights      []OwnerInsight       `json:"owner_insights"`
}

func BuildDashboardAggregates(fleet storage.Fleet) *DashboardAggregates {
	out := &DashboardAggregates{
		Users:              fleet.Owners(),
		UserBots:           make(map[string][]UserBot),
		StatusDistribution: make(map[string]int),
		DailyTrends: DailyTrends{
			RunCount:    make(map[string]int),
			SuccessRate: make(map[string]float64),
		},
	}

	successSum, execSum := 0.0, 0.0
	ownerAgg := make(map[string]*OwnerInsight)
	daySuccess := make(map[string][]float64)

	for i := range fleet {
		r := &fleet[i]
		out.TotalRuns += r.RunCount
		successSum += r.SuccessRate
		execSum += r.AvgExecTime
		if r.FailureCount > 0 {
			out.TotalErrors++
		}
		out.StatusDistribution[r.LastStatus]++

		out.UserBots[r.Owner] = append(out.UserBots[r.Owner], UserBot{
			Name:        r.BotName,
			TotalRuns:   r.RunCount,
			SuccessRate: r.SuccessRate,
			AvgExecTime: r.AvgExecTime,
			ErrorCount:  r.FailureCount,
		})

		agg := ownerAgg[r.Owner]
		if agg == nil {
			agg = &OwnerInsight{Owner: r.Owner}
			ownerAgg[r.Owner] = agg
		}
		agg.BotCount++
		agg.TotalFailures += r.FailureCount
		agg.TotalRuns += r.RunCount
		agg.AvgSuccessRate += r.SuccessRate

		if r.LastRun != nil {
			day := r.LastRun.Format(dayFormat)
			out.DailyTrends.RunCount[day] += r.RunCount
			daySuccess[day] = append(daySuccess[day], r.SuccessRate)
		}
	}

	if len(fleet) > 0 {
		out.SuccessRate = successSum / float64(len(fleet))
		out.AvgExecutionTime = execSum / float64(len(fleet))
	}

	for day, rates := range daySuccess {
		sum := 0.0
		for _, v := range rates {
			sum += v
		}
		out.DailyTrends.SuccessRate[day] = sum / float64(len(rates))
	}

	for _, owner := range out.Users {
		agg := ownerAgg[owner]
		if agg == nil {
			continue
		}
		agg.AvgSuccessRate /= float64(agg.BotCount)
		out.OwnerInsights = append(out.OwnerInsights, *agg)
	}
	return out
}

type dayGroup struct {
	date    string
	records []storage.TelemetryRecord
}

// groupByDay buckets records by their last-run calendar day, dropping
// timestamp-less records, sorted ascending by date.
func groupByDay(fleet storage.Fleet) []dayGroup {
	buckets := make(map[string][]storage.TelemetryRecord)
	for _, r := range fleet {
		if r.LastRun == nil {
			continue
		}
		day := r.LastRun.In(time.UTC).Format(dayFormat)
		buckets[day] = append(buckets[day], r)
	}

	days := make([]string, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Strings(days)

	groups := make([]dayGroup, 0, len(days))
	for _, day := range days {
		groups = append(groups, dayGroup{date: day, records: buckets[day]})
	}
	return groups
}
