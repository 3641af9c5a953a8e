package analyzer

import (
	"math"
	"math/rand"
	"sort"
)

// StandardScaler standardizes numeric features to zero mean and unit
// variance. It is fit on the training split only; inference reuses the
// fitted state.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func (s *StandardScaler) Fit(X [][]float64) {
	if len(X) == 0 {
		return
	}
	d := len(X[0])
	s.Mean = make([]float64, d)
	s.Std = make([]float64, d)
	n := float64(len(X))

	for j := 0; j < d; j++ {
		sum := 0.0
		for i := range X {
			sum += X[i][j]
		}
		mean := sum / n
		variance := 0.0
		for i := range X {
			diff := X[i][j] - mean
			variance += diff * diff
		}
		std := math.Sqrt(variance / n)
		if std < 1e-9 {
			std = 1
		}
		s.Mean[j] = mean
		s.Std[j] = std
	}
}

func (s *StandardScaler) Transform(x []float64) []float64 {
	if len(s.Mean) == 0 {
		return x
	}
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - s.Mean[j]) / s.Std[j]
	}
	return out
}

// OneHotEncoder maps categorical columns onto indicator vectors. A value
// unseen at fit time encodes as all zeros for its column block; it is
// never an error.
type OneHotEncoder struct {
	Categories [][]string `json:"categories"`
}

func (e *OneHotEncoder) Fit(rows [][]string) {
	if len(rows) == 0 {
		return
	}
	d := len(rows[0])
	e.Categories = make([][]string, d)
	for j := 0; j < d; j++ {
		seen := make(map[string]bool)
		var cats []string
		for i := range rows {
			v := rows[i][j]
			if !seen[v] {
				seen[v] = true
				cats = append(cats, v)
			}
		}
		sort.Strings(cats)
		e.Categories[j] = cats
	}
}

// Width returns the length of the encoded indicator vector.
func (e *OneHotEncoder) Width() int {
	w := 0
	for _, cats := range e.Categories {
		w += len(cats)
	}
	return w
}

func (e *OneHotEncoder) Transform(values []string) []float64 {
	out := make([]float64, e.Width())
	offset := 0
	for j, cats := range e.Categories {
		if j < len(values) {
			for k, c := range cats {
				if c == values[j] {
					out[offset+k] = 1
					break
				}
			}
		}
		offset += len(cats)
	}
	return out
}

// RandomForest is an ensemble of randomized decision trees for binary
// classification. Each tree trains on a bootstrap sample and considers a
// random subset of features per split; the predicted probability is the
// mean of the leaf class-1 fractions.
type RandomForest struct {
	Trees    []*clsNode `json:"trees"`
	NumTrees int        `json:"num_trees"`
	MaxDepth int        `json:"max_depth"`
	MinLeaf  int        `json:"min_leaf"`
}

type clsNode struct {
	Leaf  bool     `json:"leaf"`
	Prob  float64  `json:"prob"`
	Dim   int      `json:"dim"`
	Split float64  `json:"split"`
	Left  *clsNode `json:"left,omitempty"`
	Right *clsNode `json:"right,omitempty"`
}

func NewRandomForest(numTrees int) *RandomForest {
	if numTrees <= 0 {
		numTrees = 300
	}
	return &RandomForest{
		NumTrees: numTrees,
		MaxDepth: 12,
		MinLeaf:  2,
	}
}

// BalancedWeights assigns each sample a weight inversely proportional to
// its class frequency, countering label imbalance.
func BalancedWeights(y []int) []float64 {
	n := len(y)
	pos := 0
	for _, label := range y {
		if label == 1 {
			pos++
		}
	}
	neg := n - pos
	weights := make([]float64, n)
	for i, label := range y {
		if label == 1 && pos > 0 {
			weights[i] = float64(n) / (2 * float64(pos))
		} else if label == 0 && neg > 0 {
			weights[i] = float64(n) / (2 * float64(neg))
		}
	}
	return weights
}

// Fit trains the ensemble on X with labels y and per-sample weights w.
func (rf *RandomForest) Fit(X [][]float64, y []int, w []float64, rng *rand.Rand) {
	n := len(X)
	if n == 0 {
		return
	}
	d := len(X[0])
	mtry := int(math.Ceil(math.Sqrt(float64(d))))

	rf.Trees = make([]*clsNode, rf.NumTrees)
	for t := 0; t < rf.NumTrees; t++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		rf.Trees[t] = rf.buildNode(X, y, w, idx, 0, mtry, rng)
	}
}

func (rf *RandomForest) buildNode(X [][]float64, y []int, w []float64, idx []int, depth, mtry int, rng *rand.Rand) *clsNode {
	totalW, posW := 0.0, 0.0
	for _, i := range idx {
		totalW += w[i]
		if y[i] == 1 {
			posW += w[i]
		}
	}
	prob := 0.0
	if totalW > 0 {
		prob = posW / totalW
	}

	if depth >= rf.MaxDepth || len(idx) < 2*rf.MinLeaf || prob == 0 || prob == 1 {
		return &clsNode{Leaf: true, Prob: prob}
	}

	dim, split, ok := rf.bestSplit(X, y, w, idx, mtry, rng)
	if !ok {
		return &clsNode{Leaf: true, Prob: prob}
	}

	var left, right []int
	for _, i := range idx {
		if X[i][dim] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < rf.MinLeaf || len(right) < rf.MinLeaf {
		return &clsNode{Leaf: true, Prob: prob}
	}

	return &clsNode{
		Dim:   dim,
		Split: split,
		Left:  rf.buildNode(X, y, w, left, depth+1, mtry, rng),
		Right: rf.buildNode(X, y, w, right, depth+1, mtry, rng),
	}
}

// bestSplit scans a random feature subset for the weighted-gini-optimal
// threshold.
func (rf *RandomForest) bestSplit(X [][]float64, y []int, w []float64, idx []int, mtry int, rng *rand.Rand) (int, float64, bool) {
	d := len(X[0])
	dims := rng.Perm(d)
	if mtry < len(dims) {
		dims = dims[:mtry]
	}

	bestGini := math.Inf(1)
	bestDim, bestSplit := -1, 0.0

	type sample struct {
		v     float64
		label int
		w     float64
	}
	for _, dim := range dims {
		samples := make([]sample, len(idx))
		for k, i := range idx {
			samples[k] = sample{v: X[i][dim], label: y[i], w: w[i]}
		}
		sort.Slice(samples, func(a, b int) bool { return samples[a].v < samples[b].v })

		totalW, totalPos := 0.0, 0.0
		for _, s := range samples {
			totalW += s.w
			if s.label == 1 {
				totalPos += s.w
			}
		}

		leftW, leftPos := 0.0, 0.0
		for k := 0; k < len(samples)-1; k++ {
			leftW += samples[k].w
			if samples[k].label == 1 {
				leftPos += samples[k].w
			}
			if samples[k].v == samples[k+1].v {
				continue
			}
			rightW := totalW - leftW
			rightPos := totalPos - leftPos
			if leftW <= 0 || rightW <= 0 {
				continue
			}
			gini := leftW*giniImpurity(leftPos/leftW) + rightW*giniImpurity(rightPos/rightW)
			if gini < bestGini {
				bestGini = gini
				bestDim = dim
				bestSplit = (samples[k].v + samples[k+1].v) / 2
			}
		}
	}

	if bestDim < 0 {
		return 0, 0, false
	}
	return bestDim, bestSplit, true
}

func giniImpurity(p float64) float64 {
	return 2 * p * (1 - p)
}

// PredictProba returns the ensemble's class-1 probability in [0,1].
func (rf *RandomForest) PredictProba(x []float64) float64 {
	if len(rf.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, root := range rf.Trees {
		node := root
		for !node.Leaf {
			if x[node.Dim] < node.Split {
				node = node.Left
			} else {
				node = node.Right
			}
		}
		sum += node.Prob
	}
	return clamp01(sum / float64(len(rf.Trees)))
}
