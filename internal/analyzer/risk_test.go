package analyzer

import (
	"math"
	"testing"

	"github.com/fleetsight/fleetsight/internal/storage"
)

func TestScoreRecordOverride(t *testing.T) {
	r := &storage.TelemetryRecord{RunCount: 100, FailureCount: 0, SuccessRate: 98, AvgExecTime: 2.3}
	for _, profile := range []WeightProfile{ProfileDashboard, ProfileAlerts, ProfileDetail} {
		score := ScoreRecord(r, profile, Signals{ClassifierProb: 0.9, HasClassifier: true, AnomalyScore: 1, HasAnomaly: true, PopMeanExec: 2})
		if score != 0.2 {
			t.Errorf("profile %s: expected override score 0.2, got %v", profile.Name, score)
		}
	}
}

func TestScoreRecordNoOverrideWithFailures(t *testing.T) {
	r := &storage.TelemetryRecord{RunCount: 100, FailureCount: 1, SuccessRate: 99, AvgExecTime: 2}
	score := ScoreRecord(r, ProfileAlerts, Signals{PopMeanExec: 2})
	if score == 0.2 {
		t.Error("override applied despite non-zero failure count")
	}
}

func TestScoreRecordAlertsProfile(t *testing.T) {
	r := &storage.TelemetryRecord{RunCount: 100, FailureCount: 50, SuccessRate: 60, AvgExecTime: 4}
	// fr=0.5, si=0.4, eti=min(1, 4/(2*2))=1
	want := 0.4*0.5 + 0.4*0.4 + 0.2*1.0
	got := ScoreRecord(r, ProfileAlerts, Signals{PopMeanExec: 2})
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestScoreRecordDashboardProfile(t *testing.T) {
	r := &storage.TelemetryRecord{RunCount: 100, FailureCount: 30, SuccessRate: 70, AvgExecTime: 3}
	sig := Signals{ClassifierProb: 0.5, HasClassifier: true}
	want := 0.4*0.5 + 0.3*0.3 + 0.3*0.3
	got := ScoreRecord(r, ProfileDashboard, sig)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestScoreRecordRenormalizesWithoutClassifier(t *testing.T) {
	r := &storage.TelemetryRecord{RunCount: 100, FailureCount: 30, SuccessRate: 70, AvgExecTime: 3}
	// classifier absent: (0.3*fr + 0.3*si) / 0.6
	want := (0.3*0.3 + 0.3*0.3) / 0.6
	got := ScoreRecord(r, ProfileDashboard, Signals{})
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected renormalized %v, got %v", want, got)
	}
}

func TestScoreRecordBounds(t *testing.T) {
	records := []storage.TelemetryRecord{
		{RunCount: 0, FailureCount: 0, SuccessRate: 0, AvgExecTime: 0},
		{RunCount: 1, FailureCount: 500, SuccessRate: -20, AvgExecTime: 9999},
		{RunCount: 1000, FailureCount: 0, SuccessRate: 100, AvgExecTime: 0.1},
		{RunCount: 50, FailureCount: 50, SuccessRate: 0, AvgExecTime: 100},
	}
	sig := Signals{ClassifierProb: 1, HasClassifier: true, AnomalyScore: 1, HasAnomaly: true, PopMeanExec: 1}
	for i := range records {
		for _, profile := range []WeightProfile{ProfileDashboard, ProfileAlerts, ProfileDetail} {
			score := ScoreRecord(&records[i], profile, sig)
			if score < 0 || score > 1 {
				t.Errorf("record %d profile %s: score %v out of [0,1]", i, profile.Name, score)
			}
		}
	}
}

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		name   string
		record storage.TelemetryRecord
		score  float64
		want   string
	}{
		{"high failure rate", storage.TelemetryRecord{RunCount: 100, FailureCount: 15, SuccessRate: 99}, 0.1, RiskHigh},
		{"low success rate", storage.TelemetryRecord{RunCount: 100, FailureCount: 0, SuccessRate: 80}, 0.1, RiskHigh},
		{"high score", storage.TelemetryRecord{RunCount: 100, FailureCount: 0, SuccessRate: 99}, 0.75, RiskHigh},
		{"medium failure rate", storage.TelemetryRecord{RunCount: 100, FailureCount: 7, SuccessRate: 99}, 0.1, RiskMedium},
		{"medium success rate", storage.TelemetryRecord{RunCount: 100, FailureCount: 0, SuccessRate: 90}, 0.1, RiskMedium},
		{"medium score", storage.TelemetryRecord{RunCount: 100, FailureCount: 0, SuccessRate: 99}, 0.5, RiskMedium},
		{"low", storage.TelemetryRecord{RunCount: 100, FailureCount: 2, SuccessRate: 98}, 0.2, RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RiskLevel(&tt.record, tt.score); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestAlertSeverity(t *testing.T) {
	tests := []struct {
		name   string
		record storage.TelemetryRecord
		score  float64
		want   string
	}{
		{"critical failures", storage.TelemetryRecord{FailureCount: 41, SuccessRate: 99}, 0.1, SeverityCritical},
		{"critical success", storage.TelemetryRecord{FailureCount: 0, SuccessRate: 84}, 0.1, SeverityCritical},
		{"critical score", storage.TelemetryRecord{FailureCount: 0, SuccessRate: 99}, 0.71, SeverityCritical},
		{"warning failures", storage.TelemetryRecord{FailureCount: 21, SuccessRate: 99}, 0.1, SeverityWarning},
		{"warning success", storage.TelemetryRecord{FailureCount: 0, SuccessRate: 94}, 0.1, SeverityWarning},
		{"info", storage.TelemetryRecord{FailureCount: 1, SuccessRate: 99}, 0.1, SeverityInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlertSeverity(&tt.record, tt.score); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestAlertType(t *testing.T) {
	tests := []struct {
		name      string
		record    storage.TelemetryRecord
		isAnomaly bool
		want      string
	}{
		{"all conditions", storage.TelemetryRecord{FailureCount: 30, SuccessRate: 85}, true, "Anomalous Behavior & High Failure Rate & Low Success Rate"},
		{"failures only", storage.TelemetryRecord{FailureCount: 30, SuccessRate: 95}, false, "High Failure Rate"},
		{"none", storage.TelemetryRecord{FailureCount: 0, SuccessRate: 99}, false, "Performance Warning"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlertType(&tt.record, tt.isAnomaly); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
