package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/observer"
	"github.com/fleetsight/fleetsight/internal/storage"
)

// recentRunWindow caps the run window used for the recent-failure
// projection on the detail view.
const recentRunWindow = 37

// NotFoundError marks lookup failures the HTTP layer maps to 404.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// Options carries the analyzer tunables from config.
type Options struct {
	ContaminationAlerts    float64
	ContaminationDashboard float64
	RiskThreshold          float64
	Seed                   int64
}

// Engine scores the fleet snapshot. The snapshot and the loaded
// artifact are read-only shared state; the lazily trained dashboard
// bundle is the only mutable field and is guarded by mu.
type Engine struct {
	fleet  storage.Fleet
	model  *RiskModel
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	dashboard *dashboardBundle
}

// dashboardBundle is the classifier trained on the live fleet plus the
// dashboard-scoped detector. Built on first dashboard request under mu,
// so concurrent first requests train exactly once.
type dashboardBundle struct {
	model    *RiskModel
	detector *PopulationDetector
}

func NewEngine(fleet storage.Fleet, model *RiskModel, opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		fleet:  fleet,
		model:  model,
		opts:   opts,
		logger: logger,
	}
}

// Fleet exposes the snapshot for reporting handlers.
func (e *Engine) Fleet() storage.Fleet {
	return e.fleet
}

func (e *Engine) classifierSignal(r *storage.TelemetryRecord) (float64, bool) {
	if e.model == nil {
		return 0, false
	}
	p, err := e.model.PredictRiskProbability(r)
	if err != nil {
		e.logger.Warn("classifier inference failed, scoring without it",
			zap.String("bot", r.BotName), zap.Error(err))
		return 0, false
	}
	return p, true
}

// dashboardModels returns the lazily trained bundle, training it on the
// first call. Training failures are logged and retried on the next
// request rather than cached.
func (e *Engine) dashboardModels() *dashboardBundle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dashboard != nil {
		return e.dashboard
	}

	bundle := &dashboardBundle{}

	model, err := TrainRiskModel(e.fleet, 300, e.opts.Seed)
	if err != nil {
		e.logger.Warn("dashboard classifier training failed, continuing without it", zap.Error(err))
	} else {
		bundle.model = model
		observer.RecordTraining("random_forest")
	}

	bundle.detector = FitDetector(e.fleet, e.opts.ContaminationDashboard, e.opts.Seed)
	observer.RecordTraining("isolation_forest")

	e.dashboard = bundle
	return bundle
}

// Alert is one row of the alerts view.
type Alert struct {
	BotName      string  `json:"bot_name"`
	AlertType    string  `json:"alert_type"`
	Severity     string  `json:"severity"`
	Timestamp    string  `json:"timestamp"`
	RiskScore    float64 `json:"risk_score"`
	AnomalyScore float64 `json:"anomaly_score"`
	IsAnomaly    bool    `json:"is_anomaly"`
	FailureCount int     `json:"failure_count"`
	SuccessRate  float64 `json:"success_rate"`
}

// Alerts scores the whole fleet with a fresh detector and returns the
// top 20 rows sorted by anomaly flag, then risk.
func (e *Engine) Alerts() []Alert {
	detector := FitDetector(e.fleet, e.opts.ContaminationAlerts, e.opts.Seed)
	observer.RecordTraining("isolation_forest")
	popMeanExec := detector.Stats().Mean(FeatAvgExecTime)

	alerts := make([]Alert, 0, len(e.fleet))
	anomalies := 0
	for i := range e.fleet {
		r := &e.fleet[i]
		verdict := detector.Assess(r)
		if verdict.IsAnomaly {
			anomalies++
		}

		score := ScoreRecord(r, ProfileAlerts, Signals{PopMeanExec: popMeanExec})
		alerts = append(alerts, Alert{
			BotName:      r.BotName,
			AlertType:    AlertType(r, verdict.IsAnomaly),
			Severity:     AlertSeverity(r, score),
			Timestamp:    formatTimestamp(r.LastRun),
			RiskScore:    round1(score * 100),
			AnomalyScore: round3(verdict.Outlier),
			IsAnomaly:    verdict.IsAnomaly,
			FailureCount: r.FailureCount,
			SuccessRate:  round1(r.SuccessRate),
		})
	}
	observer.RecordAnomalies("alerts", anomalies)

	sort.SliceStable(alerts, func(a, b int) bool {
		if alerts[a].IsAnomaly != alerts[b].IsAnomaly {
			return alerts[a].IsAnomaly
		}
		return alerts[a].RiskScore > alerts[b].RiskScore
	})
	if len(alerts) > 20 {
		alerts = alerts[:20]
	}
	return alerts
}

// SummaryBot is one bot's entry in the summary view.
type SummaryBot struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	RiskLevel string  `json:"risk_level"`
	RiskScore float64 `json:"risk_score"`
}

// Summary is the fleet summary for one user scope.
type Summary struct {
	TotalRuns                int          `json:"total_runs"`
	TotalFailures            int          `json:"total_failures"`
	GlobalSuccessRate        float64      `json:"global_success_rate"`
	BotsWithCriticalPriority int          `json:"bots_with_critical_priority"`
	Bots                     []SummaryBot `json:"bots"`
}

// Summary aggregates risk levels over the fleet, optionally filtered to
// one owner. An owner filter matching nothing is a lookup failure.
func (e *Engine) Summary(user string) (*Summary, error) {
	fleet := e.fleet
	if user != "" && user != "all" {
		fleet = fleet.FilterOwner(user)
		if len(fleet) == 0 {
			return nil, &NotFoundError{Msg: fmt.Sprintf("No data found for user %s", user)}
		}
	}

	stats := ComputeFleetStats(fleet)
	popMeanExec := stats.Mean(FeatAvgExecTime)

	out := &Summary{Bots: make([]SummaryBot, 0, len(fleet))}
	successSum := 0.0
	successN := 0
	for i := range fleet {
		r := &fleet[i]
		out.TotalRuns += r.RunCount
		out.TotalFailures += r.FailureCount
		if !math.IsNaN(r.SuccessRate) {
			successSum += r.SuccessRate
			successN++
		}
		if containsFold(r.Priority, "critical") {
			out.BotsWithCriticalPriority++
		}

		score := ScoreRecord(r, ProfileAlerts, Signals{PopMeanExec: popMeanExec})
		out.Bots = append(out.Bots, SummaryBot{
			ID:        r.BotName,
			Name:      r.BotName,
			RiskLevel: RiskLevel(r, score),
			RiskScore: round1(score * 100),
		})
	}

	if successN > 0 {
		out.GlobalSuccessRate = successSum / float64(successN)
	}
	out.GlobalSuccessRate = math.Max(0, math.Min(100, out.GlobalSuccessRate))
	if out.TotalFailures > out.TotalRuns {
		out.TotalFailures = out.TotalRuns
	}

	sort.SliceStable(out.Bots, func(a, b int) bool {
		return out.Bots[a].RiskScore > out.Bots[b].RiskScore
	})
	return out, nil
}

// RiskEntry is one bot in the dashboard's risk-sorted listing.
type RiskEntry struct {
	BotName  string  `json:"bot_name"`
	Owner    string  `json:"owner"`
	RiskProb float64 `json:"risk_prob"`
}

// AnomalyEntry identifies a bot the dashboard detector flagged.
type AnomalyEntry struct {
	BotName string `json:"bot_name"`
	Owner   string `json:"owner"`
}

// ModelKPIs are the holdout metrics of the dashboard classifier.
type ModelKPIs struct {
	Accuracy float64 `json:"accuracy"`
	AUC      float64 `json:"auc"`
}

// DashboardRisk is the model-derived part of the dashboard payload; the
// reporting package supplies the rest.
type DashboardRisk struct {
	RiskAnalysis []RiskEntry    `json:"risk_analysis"`
	Anomalies    []AnomalyEntry `json:"anomalies"`
	KPIs         *ModelKPIs     `json:"ml_metrics,omitempty"`
}

// DashboardRisk scores every bot with the lazily trained bundle.
func (e *Engine) DashboardRisk() *DashboardRisk {
	bundle := e.dashboardModels()

	out := &DashboardRisk{RiskAnalysis: make([]RiskEntry, 0, len(e.fleet))}
	anomalies := 0
	for i := range e.fleet {
		r := &e.fleet[i]

		sig := Signals{}
		if bundle.model != nil {
			if p, err := bundle.model.PredictRiskProbability(r); err == nil {
				sig.ClassifierProb = p
				sig.HasClassifier = true
			}
		}
		out.RiskAnalysis = append(out.RiskAnalysis, RiskEntry{
			BotName:  r.BotName,
			Owner:    r.Owner,
			RiskProb: round3(ScoreRecord(r, ProfileDashboard, sig)),
		})

		if bundle.detector.Assess(r).IsAnomaly {
			anomalies++
			out.Anomalies = append(out.Anomalies, AnomalyEntry{BotName: r.BotName, Owner: r.Owner})
		}
	}
	observer.RecordAnomalies("dashboard", anomalies)

	if bundle.model != nil {
		out.KPIs = &ModelKPIs{
			Accuracy: bundle.model.KPIAccuracy,
			AUC:      bundle.model.KPIAUC,
		}
	}

	sort.SliceStable(out.RiskAnalysis, func(a, b int) bool {
		return out.RiskAnalysis[a].RiskProb > out.RiskAnalysis[b].RiskProb
	})
	return out
}

// AnomalyDetail is the nested anomaly explanation on the detail view.
type AnomalyDetail struct {
	Status         string             `json:"status"`
	Score          float64            `json:"score"`
	Percentile     float64            `json:"percentile"`
	Factors        []string           `json:"factors"`
	FeatureImpacts map[string]float64 `json:"feature_impacts"`
}

// Analysis is the single-bot risk assessment.
type Analysis struct {
	RiskProbability float64            `json:"risk_probability"`
	FailureRate     float64            `json:"failure_rate"`
	RecentFailures  int                `json:"recent_failures"`
	RecentRuns      int                `json:"recent_runs"`
	SuccessRate     float64            `json:"success_rate"`
	AnomalyAnalysis *AnomalyDetail     `json:"anomaly_analysis"`
	IsAnomalous     bool               `json:"is_anomalous"`
	AnomalyScore    float64            `json:"anomaly_score"`
	Recommendations []string           `json:"recommendations"`
	MetricImpacts   map[string]float64 `json:"metric_impacts"`
}

// Analysis assesses one bot against the whole fleet: fresh detector,
// detail-profile score, attribution and recommendations.
func (e *Engine) Analysis(botID string) (*Analysis, error) {
	r := e.fleet.FindBot(botID)
	if r == nil {
		return nil, &NotFoundError{Msg: fmt.Sprintf("Bot not found: %s", botID)}
	}

	detector := FitDetector(e.fleet, e.opts.ContaminationAlerts, e.opts.Seed)
	observer.RecordTraining("isolation_forest")
	stats := detector.Stats()
	verdict := detector.Assess(r)
	if verdict.IsAnomaly {
		observer.RecordAnomalies("analysis", 1)
	}
	isWarning := verdict.Percentile < 20 && !verdict.IsAnomaly

	sig := Signals{
		AnomalyScore: verdict.Score,
		HasAnomaly:   true,
	}
	sig.ClassifierProb, sig.HasClassifier = e.classifierSignal(r)
	riskProb := ScoreRecord(r, ProfileDetail, sig)

	// The detail view derives its success rate from the failure rate so
	// the two never disagree, overriding the raw telemetry field.
	failureRate := r.FailureRatePct()
	successRate := 100 - failureRate

	recentRuns := r.RunCount
	if recentRuns > recentRunWindow {
		recentRuns = recentRunWindow
	}
	recentFailures := int(r.FailureRatio() * float64(recentRuns))

	impacts := FeatureImpacts(r, stats)
	recs := Recommendations(RecommendInput{
		Record:    r,
		Stats:     stats,
		IsAnomaly: verdict.IsAnomaly,
		RiskProb:  riskProb,
		Impacts:   impacts,
	})

	return &Analysis{
		RiskProbability: riskProb,
		FailureRate:     round1(failureRate),
		RecentFailures:  recentFailures,
		RecentRuns:      recentRuns,
		SuccessRate:     successRate,
		AnomalyAnalysis: &AnomalyDetail{
			Status:     anomalyStatus(r, verdict.IsAnomaly, isWarning, failureRate, successRate),
			Score:      round1(100 - verdict.Percentile),
			Percentile: round1(verdict.Percentile),
			Factors:    contributingFactors(r, failureRate),
			FeatureImpacts: map[string]float64{
				"Failure Rate":       round1(failureRate),
				"Success Rate":       round1(successRate),
				"Execution Time (s)": round1(r.AvgExecTime),
				"Total Failures":     float64(r.FailureCount),
			},
		},
		IsAnomalous:     verdict.IsAnomaly,
		AnomalyScore:    verdict.Score,
		Recommendations: recs,
		MetricImpacts: map[string]float64{
			"failure_rate_impact":   round1(impacts[FeatFailureCount] * 100 / 4),
			"success_rate_impact":   round1(impacts[FeatSuccessRate] * 100 / 4),
			"execution_time_impact": round1(impacts[FeatAvgExecTime] * 100 / 4),
			"run_count_impact":      round1(impacts[FeatRunCount] * 100 / 4),
		},
	}, nil
}

func anomalyStatus(r *storage.TelemetryRecord, isAnomaly, isWarning bool, failureRate, successRate float64) string {
	switch {
	case isAnomaly:
		return "CRITICAL ANOMALY"
	case isWarning:
		return "POTENTIAL ANOMALY"
	case failureRate > 10 || successRate < 85:
		return "HIGH RISK"
	case failureRate > 5 || successRate < 95:
		return "MEDIUM RISK"
	default:
		return "NORMAL"
	}
}

func contributingFactors(r *storage.TelemetryRecord, failureRate float64) []string {
	if r.FailureCount == 0 {
		return []string{"No failures detected"}
	}
	rateTier := "Low"
	if failureRate > 10 {
		rateTier = "High"
	} else if failureRate > 5 {
		rateTier = "Moderate"
	}
	countTier := "Low"
	if r.FailureCount > 10 {
		countTier = "High"
	} else if r.FailureCount > 5 {
		countTier = "Moderate"
	}
	return []string{
		fmt.Sprintf("%s failure rate (%.1f%% of runs failed)", rateTier, failureRate),
		fmt.Sprintf("%s absolute failure count (%d failures)", countTier, r.FailureCount),
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
