// Package ingest loads the fleet telemetry snapshot from a tabular CSV
// export. Malformed cells degrade to zero values instead of failing the
// load; the scoring core substitutes population means for them later.
package ingest

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fleetsight/fleetsight/internal/storage"
	"go.uber.org/zap"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02",
}

// LoadCSV reads a telemetry CSV with a header row into a Fleet.
func LoadCSV(path string, logger *zap.Logger) (storage.Fleet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	if _, ok := col["Bot Name"]; !ok {
		return nil, fmt.Errorf("telemetry file missing required column: Bot Name")
	}

	rowsRead := 0
	var fleet storage.Fleet
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		rowsRead++

		field := func(name string) string {
			idx, ok := col[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		r := storage.TelemetryRecord{
			BotName:      field("Bot Name"),
			BotType:      field("Bot Type"),
			Owner:        field("Owner"),
			Priority:     field("Priority"),
			Version:      field("Version"),
			LastStatus:   field("Last Status"),
			RunCount:     parseCount(field("Run Count")),
			FailureCount: parseCount(field("Failure Count")),
			SuccessRate:  parseFloat(field("Success Rate (%)")),
			AvgExecTime:  parseFloat(field("Average Execution Time (s)")),
			LastRun:      parseTimestamp(field("Last Run Timestamp")),
		}
		if r.BotName == "" {
			continue
		}
		fleet = append(fleet, r)
	}

	substituteMissing(fleet)

	if logger != nil {
		logger.Info("Fleet snapshot loaded from CSV",
			zap.String("path", path),
			zap.Int("rows", rowsRead),
			zap.Int("bots", len(fleet)),
		)
	}
	return fleet, nil
}

func parseCount(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// substituteMissing replaces non-finite success-rate and execution-time
// cells with the column mean over the well-formed rows, so the snapshot
// served downstream never carries NaN.
func substituteMissing(fleet storage.Fleet) {
	var srSum, srN, etSum, etN float64
	for i := range fleet {
		if !math.IsNaN(fleet[i].SuccessRate) {
			srSum += fleet[i].SuccessRate
			srN++
		}
		if !math.IsNaN(fleet[i].AvgExecTime) {
			etSum += fleet[i].AvgExecTime
			etN++
		}
	}
	srMean, etMean := 0.0, 0.0
	if srN > 0 {
		srMean = srSum / srN
	}
	if etN > 0 {
		etMean = etSum / etN
	}
	for i := range fleet {
		if math.IsNaN(fleet[i].SuccessRate) {
			fleet[i].SuccessRate = srMean
		}
		if math.IsNaN(fleet[i].AvgExecTime) {
			fleet[i].AvgExecTime = etMean
		}
	}
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
