// fleetsight-train fits the supervised risk classifier offline and
// writes the artifact the server loads at startup.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/analyzer"
	"github.com/fleetsight/fleetsight/internal/ingest"
	"github.com/fleetsight/fleetsight/pkg/logger"
)

func main() {
	dataPath := flag.String("data", "data/fleet.csv", "telemetry CSV to train on")
	outPath := flag.String("out", "models/risk_model.json", "artifact output path")
	trees := flag.Int("trees", 300, "number of trees in the ensemble")
	seed := flag.Int64("seed", 42, "rng seed for reproducible training")
	flag.Parse()

	if err := logger.Initialize("info"); err != nil {
		fmt.Printf("Logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fleet, err := ingest.LoadCSV(*dataPath, logger.Log)
	if err != nil {
		logger.Fatal("Training data load failed", zap.Error(err))
	}
	logger.Info("Training data loaded", zap.Int("records", len(fleet)))

	model, err := analyzer.TrainRiskModel(fleet, *trees, *seed)
	if err != nil {
		logger.Fatal("Training failed", zap.Error(err))
	}
	logger.Info("Model trained",
		zap.Float64("kpi_accuracy", model.KPIAccuracy),
		zap.Float64("kpi_auc", model.KPIAUC))

	if err := model.Save(*outPath); err != nil {
		logger.Fatal("Artifact write failed", zap.Error(err))
	}
	logger.Info("Artifact written", zap.String("path", *outPath))
}
