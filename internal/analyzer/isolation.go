package analyzer

import (
	"math"
	"math/rand"
	"sort"

	"github.com/fleetsight/fleetsight/internal/storage"
	"gonum.org/v1/gonum/stat"
)

// IsolationForest is a lightweight outlier detector suitable for small
// to medium populations. It builds random trees up to a height limit and
// scores points by average path length; shorter paths isolate faster and
// score closer to 1.
type IsolationForest struct {
	Trees      []*isoTree `json:"trees"`
	NumTrees   int        `json:"num_trees"`
	SampleSize int        `json:"sample_size"`
	HeightLim  int        `json:"height_limit"`
}

type isoTree struct {
	Root *isoNode `json:"root"`
}

type isoNode struct {
	Leaf     bool     `json:"leaf"`
	Size     int      `json:"size"`
	Dim      int      `json:"dim"`
	SplitVal float64  `json:"split_val"`
	Left     *isoNode `json:"left,omitempty"`
	Right    *isoNode `json:"right,omitempty"`
}

func NewIsolationForest(numTrees, sampleSize int) *IsolationForest {
	if numTrees <= 0 {
		numTrees = 100
	}
	if sampleSize <= 0 {
		sampleSize = 256
	}
	return &IsolationForest{
		NumTrees:   numTrees,
		SampleSize: sampleSize,
		HeightLim:  int(math.Ceil(math.Log2(float64(sampleSize)))),
	}
}

// Fit trains the forest on X. The caller provides the rng so repeated
// fits over the same population are reproducible.
func (f *IsolationForest) Fit(X [][]float64, rng *rand.Rand) {
	f.Trees = make([]*isoTree, f.NumTrees)
	n := len(X)
	for i := 0; i < f.NumTrees; i++ {
		// sample without replacement up to SampleSize
		idxs := rng.Perm(n)
		m := f.SampleSize
		if m > n {
			m = n
		}
		sample := make([][]float64, m)
		for j := 0; j < m; j++ {
			sample[j] = X[idxs[j]]
		}
		f.Trees[i] = &isoTree{Root: buildIsoTree(sample, 0, f.HeightLim, rng)}
	}
}

func buildIsoTree(X [][]float64, h, hlim int, rng *rand.Rand) *isoNode {
	if len(X) <= 1 || h >= hlim {
		return &isoNode{Leaf: true, Size: len(X)}
	}
	d := len(X[0])
	dim := rng.Intn(d)
	minv, maxv := X[0][dim], X[0][dim]
	for i := 1; i < len(X); i++ {
		v := X[i][dim]
		if v < minv {
			minv = v
		}
		if v > maxv {
			maxv = v
		}
	}
	if minv == maxv { // cannot split further
		return &isoNode{Leaf: true, Size: len(X)}
	}
	split := minv + rng.Float64()*(maxv-minv)
	left := make([][]float64, 0, len(X))
	right := make([][]float64, 0, len(X))
	for _, row := range X {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{Leaf: true, Size: len(X)}
	}
	return &isoNode{
		Dim:      dim,
		SplitVal: split,
		Left:     buildIsoTree(left, h+1, hlim, rng),
		Right:    buildIsoTree(right, h+1, hlim, rng),
	}
}

// cFactor is the average path length of an unsuccessful BST search,
// used to normalize path lengths.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2.0*(math.Log(float64(n-1))+0.5772156649) - 2.0*float64(n-1)/float64(n)
}

func isoPathLength(node *isoNode, x []float64, h int) float64 {
	if node.Leaf {
		if node.Size <= 1 {
			return float64(h)
		}
		return float64(h) + cFactor(node.Size)
	}
	if x[node.Dim] < node.SplitVal {
		return isoPathLength(node.Left, x, h+1)
	}
	return isoPathLength(node.Right, x, h+1)
}

// Score returns the outlier score in [0,1]; higher means more anomalous.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += isoPathLength(t.Root, x, 0)
	}
	avgPath := sum / float64(len(f.Trees))
	c := cFactor(f.SampleSize)
	if c <= 0 {
		c = 1
	}
	return math.Pow(2, -avgPath/c)
}

// RobustScaler centers on the median and scales by the interquartile
// range, so a handful of extreme bots does not dominate the scaling the
// way mean/std scaling would.
type RobustScaler struct {
	Median []float64 `json:"median"`
	IQR    []float64 `json:"iqr"`
}

func (s *RobustScaler) Fit(X [][]float64) {
	if len(X) == 0 {
		return
	}
	d := len(X[0])
	s.Median = make([]float64, d)
	s.IQR = make([]float64, d)
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		sorted := append([]float64(nil), col...)
		sort.Float64s(sorted)
		s.Median[j] = stat.Quantile(0.5, stat.Empirical, sorted, nil)
		iqr := stat.Quantile(0.75, stat.Empirical, sorted, nil) - stat.Quantile(0.25, stat.Empirical, sorted, nil)
		if iqr == 0 {
			iqr = 1
		}
		s.IQR[j] = iqr
	}
}

func (s *RobustScaler) Transform(x []float64) []float64 {
	if len(s.Median) == 0 {
		return x
	}
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - s.Median[j]) / s.IQR[j]
	}
	return out
}

// AnomalyVerdict is the detector's output for one record. Score is
// normalized within the call's population, so 1.0 means "most anomalous
// in this population" and is not comparable across scopes.
type AnomalyVerdict struct {
	IsAnomaly  bool
	Score      float64 // [0,1], population min-max normalized
	Percentile float64 // [0,100], share of population with a lower raw score
	Outlier    float64 // raw forest outlier score
}

// PopulationDetector is an isolation forest fitted against exactly the
// population the caller is viewing, plus the scaler state used to fit
// it. It is scoped to one record set and not retained across requests.
type PopulationDetector struct {
	forest    *IsolationForest
	scaler    *RobustScaler
	stats     FleetStats
	popScores []float64
	threshold float64
	minScore  float64
	maxScore  float64
}

// FitDetector trains a fresh detector on the fleet's numeric features.
// Contamination is the expected outlier fraction; the decision threshold
// is the matching quantile of the population's own scores, so a single
// call never flags materially more than contamination * len(fleet)
// records.
func FitDetector(fleet storage.Fleet, contamination float64, seed int64) *PopulationDetector {
	popStats := ComputeFleetStats(fleet)
	X := featureMatrix(fleet, popStats)

	scaler := &RobustScaler{}
	scaler.Fit(X)
	scaled := make([][]float64, len(X))
	for i := range X {
		scaled[i] = scaler.Transform(X[i])
	}

	rng := rand.New(rand.NewSource(seed))
	forest := NewIsolationForest(100, 256)
	forest.Fit(scaled, rng)

	scores := make([]float64, len(scaled))
	for i := range scaled {
		scores[i] = forest.Score(scaled[i])
	}

	d := &PopulationDetector{
		forest:    forest,
		scaler:    scaler,
		stats:     popStats,
		popScores: scores,
	}

	if len(scores) > 0 {
		sorted := append([]float64(nil), scores...)
		sort.Float64s(sorted)
		d.threshold = stat.Quantile(1-contamination, stat.Empirical, sorted, nil)
		d.minScore = sorted[0]
		d.maxScore = sorted[len(sorted)-1]
	}
	return d
}

// Stats exposes the population statistics the detector was fitted with.
func (d *PopulationDetector) Stats() FleetStats {
	return d.stats
}

// Assess scores one record against the fitted population.
func (d *PopulationDetector) Assess(r *storage.TelemetryRecord) AnomalyVerdict {
	if d.forest == nil || len(d.popScores) == 0 {
		return AnomalyVerdict{Percentile: 100}
	}

	x := d.scaler.Transform(FeatureVector(r, d.stats))
	outlier := d.forest.Score(x)

	// The raw score convention follows the detector's native samples
	// score: higher means more normal. Percentile rank is the share of
	// the population scoring lower, i.e. more anomalous, than this bot.
	raw := -outlier
	below := 0
	for _, s := range d.popScores {
		if -s < raw {
			below++
		}
	}
	percentile := float64(below) / float64(len(d.popScores)) * 100

	score := 0.0
	if d.maxScore > d.minScore {
		score = (outlier - d.minScore) / (d.maxScore - d.minScore)
	}
	score = clamp01(score)

	return AnomalyVerdict{
		IsAnomaly:  outlier > d.threshold,
		Score:      score,
		Percentile: percentile,
		Outlier:    outlier,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
