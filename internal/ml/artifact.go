package ml

import (
	"fmt"
	"math"
	"os"
	"slices"

	"churn-api/internal/features"

	"github.com/goccy/go-json"
)

// Artifact kinds understood by the in-process evaluator.
const (
	KindForest   = "forest"
	KindLogistic = "logistic"
)

// Artifact is the JSON export of a trained model.
//
// Forest trees use the scikit-learn tree_ layout: parallel per-node arrays,
// leaves have children_left == -1, samples go left when x[feature] <= threshold,
// and value holds the per-class sample counts (or fractions) at that node.
type Artifact struct {
	Type     string   `json:"type"`
	Version  string   `json:"version,omitempty"`
	Features []string `json:"features,omitempty"`

	Trees []Tree `json:"trees,omitempty"`

	Coefficients []float64 `json:"coefficients,omitempty"`
	Intercept    float64   `json:"intercept,omitempty"`
	Mean         []float64 `json:"mean,omitempty"`
	Scale        []float64 `json:"scale,omitempty"`
}

// Tree is a single decision tree of a forest.
type Tree struct {
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Value         [][]float64 `json:"value"`
}

const leaf = -1

func loadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact %s: %w", path, err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	return &a, nil
}

// compile validates the artifact and returns the evaluator for it.
func (a *Artifact) compile() (Model, error) {
	if len(a.Features) > 0 && !slices.Equal(a.Features, features.Names()) {
		return nil, fmt.Errorf("artifact feature order %v does not match service order %v", a.Features, features.Names())
	}

	switch a.Type {
	case KindForest:
		return newForest(a.Trees)
	case KindLogistic:
		return newLogistic(a.Coefficients, a.Intercept, a.Mean, a.Scale)
	default:
		return nil, fmt.Errorf("unsupported model type %q", a.Type)
	}
}

type forest struct {
	trees []Tree
}

func newForest(trees []Tree) (*forest, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("forest has no trees")
	}
	for i := range trees {
		if err := trees[i].validate(); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &forest{trees: trees}, nil
}

func (t *Tree) validate() error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("node arrays have mismatched lengths")
	}

	for i := 0; i < n; i++ {
		left, right := t.ChildrenLeft[i], t.ChildrenRight[i]
		if left == leaf {
			if right != leaf {
				return fmt.Errorf("node %d has only one child", i)
			}
			if len(t.Value[i]) < 2 {
				return fmt.Errorf("leaf %d needs two class values, got %d", i, len(t.Value[i]))
			}
			continue
		}
		// Children always follow their parent in a scikit-learn export,
		// which also rules out cycles.
		if left <= i || left >= n || right <= i || right >= n {
			return fmt.Errorf("node %d has out-of-range children (%d, %d)", i, left, right)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= features.Size {
			return fmt.Errorf("node %d splits on unknown feature %d", i, t.Feature[i])
		}
	}
	return nil
}

// leafProbability walks the tree for v and returns the churn fraction at the leaf.
func (t *Tree) leafProbability(v features.Vector) (float64, error) {
	node := 0
	for t.ChildrenLeft[node] != leaf {
		if v[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}

	counts := t.Value[node]
	var total float64
	for _, c := range counts {
		total += c
	}
	if total <= 0 {
		return 0, fmt.Errorf("leaf %d has no samples", node)
	}
	return counts[1] / total, nil
}

// Probability averages the per-tree leaf probabilities, like predict_proba.
func (f *forest) Probability(v features.Vector) (float64, error) {
	var sum float64
	for i := range f.trees {
		p, err := f.trees[i].leafProbability(v)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += p
	}
	return sum / float64(len(f.trees)), nil
}

type logistic struct {
	coef      []float64
	intercept float64
	mean      []float64
	scale     []float64
}

func newLogistic(coef []float64, intercept float64, mean, scale []float64) (*logistic, error) {
	if len(coef) != features.Size {
		return nil, fmt.Errorf("expected %d coefficients, got %d", features.Size, len(coef))
	}
	if mean != nil && len(mean) != features.Size {
		return nil, fmt.Errorf("expected %d scaler means, got %d", features.Size, len(mean))
	}
	if scale != nil && len(scale) != features.Size {
		return nil, fmt.Errorf("expected %d scaler scales, got %d", features.Size, len(scale))
	}
	return &logistic{coef: coef, intercept: intercept, mean: mean, scale: scale}, nil
}

func (l *logistic) Probability(v features.Vector) (float64, error) {
	z := l.intercept
	for i, x := range v {
		if l.mean != nil {
			x -= l.mean[i]
		}
		// Zero-variance columns keep a unit scale, as StandardScaler does.
		if l.scale != nil && l.scale[i] != 0 {
			x /= l.scale[i]
		}
		z += l.coef[i] * x
	}
	return 1 / (1 + math.Exp(-z)), nil
}
