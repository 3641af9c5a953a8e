package analyzer

import (
	"github.com/fleetsight/fleetsight/internal/storage"
)

// Risk level labels surfaced to callers.
const (
	RiskHigh   = "HIGH RISK"
	RiskMedium = "MEDIUM RISK"
	RiskLow    = "LOW RISK"
)

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// overrideScore is the forced score for the zero-failure short-circuit.
const overrideScore = 0.2

// WeightProfile is one view's weighting of the risk signals. Each view
// keeps its historically tuned weights; they are intentionally distinct,
// not drift, so changing one must not change the others.
type WeightProfile struct {
	Name           string
	Classifier     float64
	FailureRate    float64
	SuccessImpact  float64
	ExecTimeImpact float64
	Anomaly        float64
}

var (
	// ProfileDashboard weights the classifier against the raw failure
	// and success signals.
	ProfileDashboard = WeightProfile{
		Name:          "dashboard",
		Classifier:    0.4,
		FailureRate:   0.3,
		SuccessImpact: 0.3,
	}

	// ProfileAlerts is purely heuristic; the alerts view never consults
	// the classifier.
	ProfileAlerts = WeightProfile{
		Name:           "alerts",
		FailureRate:    0.4,
		SuccessImpact:  0.4,
		ExecTimeImpact: 0.2,
	}

	// ProfileDetail is anomaly-dominant for the single-bot view.
	ProfileDetail = WeightProfile{
		Name:       "detail",
		Anomaly:    0.6,
		Classifier: 0.4,
	}
)

// Signals carries the model-derived inputs to scoring. Has* flags mark
// which signals are actually available; an unavailable signal's weight
// is dropped and the rest renormalized rather than scored as zero.
type Signals struct {
	ClassifierProb float64
	HasClassifier  bool
	AnomalyScore   float64
	HasAnomaly     bool
	PopMeanExec    float64
}

// ScoreRecord combines the record's heuristics with the available model
// signals under the given profile. The result is clamped to [0,1].
// Records with zero failures and a success rate of at least 95 bypass
// the weighted computation entirely and score 0.2.
func ScoreRecord(r *storage.TelemetryRecord, profile WeightProfile, sig Signals) float64 {
	if r.FailureCount == 0 && r.SuccessRate >= 95 {
		return overrideScore
	}

	failureRate := r.FailureRatio()
	successImpact := (100 - r.SuccessRate) / 100

	execImpact := 0.0
	if sig.PopMeanExec > 0 {
		execImpact = r.AvgExecTime / (2 * sig.PopMeanExec)
		if execImpact > 1 {
			execImpact = 1
		}
	}

	score := profile.FailureRate*failureRate +
		profile.SuccessImpact*successImpact +
		profile.ExecTimeImpact*execImpact
	weight := profile.FailureRate + profile.SuccessImpact + profile.ExecTimeImpact

	if profile.Classifier > 0 && sig.HasClassifier {
		score += profile.Classifier * sig.ClassifierProb
		weight += profile.Classifier
	}
	if profile.Anomaly > 0 && sig.HasAnomaly {
		score += profile.Anomaly * sig.AnomalyScore
		weight += profile.Anomaly
	}

	if weight <= 0 {
		return 0
	}
	// Renormalize so dropped signals do not deflate the score.
	return clamp01(score / weight * totalWeight(profile))
}

func totalWeight(p WeightProfile) float64 {
	return p.Classifier + p.FailureRate + p.SuccessImpact + p.ExecTimeImpact + p.Anomaly
}

// RiskLevel maps a record and its aggregated score onto the categorical
// level. Thresholds are shared by every view.
func RiskLevel(r *storage.TelemetryRecord, score float64) string {
	frPct := r.FailureRatePct()
	switch {
	case frPct > 10 || r.SuccessRate < 85 || score >= 0.7:
		return RiskHigh
	case frPct > 5 || r.SuccessRate < 95 || score >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// AlertSeverity grades an alert from absolute failure counts, success
// rate and the aggregated score.
func AlertSeverity(r *storage.TelemetryRecord, score float64) string {
	switch {
	case r.FailureCount > 40 || r.SuccessRate < 85 || score > 0.7:
		return SeverityCritical
	case r.FailureCount > 20 || r.SuccessRate < 95 || score > 0.4:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// AlertType composes the alert label from the conditions that fired.
func AlertType(r *storage.TelemetryRecord, isAnomaly bool) string {
	var parts []string
	if isAnomaly {
		parts = append(parts, "Anomalous Behavior")
	}
	if r.FailureCount > 20 {
		parts = append(parts, "High Failure Rate")
	}
	if r.SuccessRate < 90 {
		parts = append(parts, "Low Success Rate")
	}
	if len(parts) == 0 {
		return "Performance Warning"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " & " + p
	}
	return out
}
