package statistical

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mikey/mail-classifier/internal/core"
)

// FitConfig controls gradient descent
type FitConfig struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// DefaultFitConfig returns the training defaults
func DefaultFitConfig() FitConfig {
	return FitConfig{Epochs: 300, LearningRate: 0.1, L2: 0.001}
}

var errEmptyData = errors.New("no training rows")

// Scaler standardizes each feature to zero mean and unit variance
type Scaler struct {
	Mean []float64 `msgpack:"mean"`
	Std  []float64 `msgpack:"std"`
}

// FitScaler learns per-column statistics of X
func FitScaler(X [][]float64) (*Scaler, error) {
	if len(X) == 0 {
		return nil, errEmptyData
	}
	width := len(X[0])
	s := &Scaler{Mean: make([]float64, width), Std: make([]float64, width)}
	col := make([]float64, len(X))
	for j := 0; j < width; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if math.IsNaN(std) || std < 1e-9 {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s, nil
}

// Transform returns a standardized copy of x
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - s.Mean[j]) / s.Std[j]
	}
	return out
}

// TransformAll standardizes every row of X
func (s *Scaler) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}

// Logistic is an L2-regularized binary logistic regression
type Logistic struct {
	Weights []float64 `msgpack:"weights"`
	Bias    float64   `msgpack:"bias"`
}

// FitLogistic trains on rows X with labels y in {0,1} using batch gradient
// descent. ctx is checked every epoch.
func FitLogistic(ctx context.Context, X [][]float64, y []float64, cfg FitConfig) (*Logistic, error) {
	if len(X) == 0 {
		return nil, errEmptyData
	}
	n, width := float64(len(X)), len(X[0])
	m := &Logistic{Weights: make([]float64, width)}
	grad := make([]float64, width)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("logistic training stopped at epoch %d: %w", epoch, err)
		}
		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64
		for i, row := range X {
			diff := m.Prob(row) - y[i]
			floats.AddScaled(grad, diff, row)
			gradBias += diff
		}
		floats.Scale(1/n, grad)
		floats.AddScaled(grad, cfg.L2, m.Weights)
		floats.AddScaled(m.Weights, -cfg.LearningRate, grad)
		m.Bias -= cfg.LearningRate * gradBias / n
	}
	return m, nil
}

// Prob returns P(y=1 | x)
func (m *Logistic) Prob(x []float64) float64 {
	return sigmoid(floats.Dot(m.Weights, x) + m.Bias)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// Softmax is an L2-regularized multinomial logistic regression
type Softmax struct {
	Weights [][]float64 `msgpack:"weights"`
	Bias    []float64   `msgpack:"bias"`
}

// FitSoftmax trains on rows X with class indexes y in [0,k)
func FitSoftmax(ctx context.Context, X [][]float64, y []int, k int, cfg FitConfig) (*Softmax, error) {
	if len(X) == 0 {
		return nil, errEmptyData
	}
	n, width := float64(len(X)), len(X[0])
	m := &Softmax{Weights: make([][]float64, k), Bias: make([]float64, k)}
	grad := make([][]float64, k)
	for c := 0; c < k; c++ {
		m.Weights[c] = make([]float64, width)
		grad[c] = make([]float64, width)
	}
	gradBias := make([]float64, k)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("softmax training stopped at epoch %d: %w", epoch, err)
		}
		for c := 0; c < k; c++ {
			for j := range grad[c] {
				grad[c][j] = 0
			}
			gradBias[c] = 0
		}
		for i, row := range X {
			probs := m.Probs(row)
			for c := 0; c < k; c++ {
				diff := probs[c]
				if y[i] == c {
					diff--
				}
				floats.AddScaled(grad[c], diff, row)
				gradBias[c] += diff
			}
		}
		for c := 0; c < k; c++ {
			floats.Scale(1/n, grad[c])
			floats.AddScaled(grad[c], cfg.L2, m.Weights[c])
			floats.AddScaled(m.Weights[c], -cfg.LearningRate, grad[c])
			m.Bias[c] -= cfg.LearningRate * gradBias[c] / n
		}
	}
	return m, nil
}

// Probs returns the class distribution for x
func (m *Softmax) Probs(x []float64) []float64 {
	logits := make([]float64, len(m.Weights))
	for c, w := range m.Weights {
		logits[c] = floats.Dot(w, x) + m.Bias[c]
	}
	max := floats.Max(logits)
	for c := range logits {
		logits[c] = math.Exp(logits[c] - max)
	}
	floats.Scale(1/floats.Sum(logits), logits)
	return logits
}

// Predict returns the most likely class index
func (m *Softmax) Predict(x []float64) int {
	return floats.MaxIdx(m.Probs(x))
}

// LabelEncoder maps categories to dense class indexes in sorted order
type LabelEncoder struct {
	Classes []core.Category `msgpack:"classes"`
}

// NewLabelEncoder builds an encoder over the distinct labels
func NewLabelEncoder(labels []core.Category) *LabelEncoder {
	seen := make(map[core.Category]bool)
	var classes []core.Category
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			classes = append(classes, l)
		}
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return &LabelEncoder{Classes: classes}
}

// Encode returns the index of c
func (e *LabelEncoder) Encode(c core.Category) (int, bool) {
	i := sort.Search(len(e.Classes), func(i int) bool { return e.Classes[i] >= c })
	if i < len(e.Classes) && e.Classes[i] == c {
		return i, true
	}
	return -1, false
}

// Decode returns the category at index i
func (e *LabelEncoder) Decode(i int) core.Category {
	return e.Classes[i]
}

func finite(vs ...[]float64) bool {
	for _, v := range vs {
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}
