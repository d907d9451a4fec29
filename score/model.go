package score

import (
	"math"

	"github.com/lakewing/fpk"
)

// LogisticModel is a simple logistic-regression model over named features.
// Real deployments resolve models through an external registry; this one
// exists so the kit is runnable end to end and for tests.
type LogisticModel struct {
	Ver     string
	Bias    float64
	Weights map[string]float64
}

// Version implements Model.
func (m *LogisticModel) Version() string { return m.Ver }

// Predict implements Model. Missing features contribute zero.
func (m *LogisticModel) Predict(fv fpk.FeatureVector) (float64, error) {
	z := m.Bias
	for name, w := range m.Weights {
		z += w * fv.Features[name]
	}
	return 1 / (1 + math.Exp(-z)), nil
}

// StaticRegistry always returns the one model it holds.
type StaticRegistry struct {
	Model Model
}

// Production implements Registry.
func (r StaticRegistry) Production() (Model, error) { return r.Model, nil }

// DefaultModel is a hand-weighted churn model for demos: inactivity and
// support tickets push the score up, recent logins and spend pull it down.
func DefaultModel() *LogisticModel {
	return &LogisticModel{
		Ver:  "churn-demo-1",
		Bias: -1.5,
		Weights: map[string]float64{
			"days_since_activity": 0.08,
			"tickets_30d":         0.45,
			"label_canceled":      3.0,
			"logins_7d":           -0.30,
			"amount_30d":          -0.002,
		},
	}
}
