// Package inference turns a food photo into a nutrition estimate.
package inference

import (
	"context"
	"errors"

	"github.com/macromini/macromini/internal/model"
)

// ErrInferenceFailed covers every upstream failure: transport errors,
// timeouts, non-2xx responses and replies that do not parse.
var ErrInferenceFailed = errors.New("inference failed")

// Adapter produces a nutrition estimate for one image.
type Adapter interface {
	Analyze(ctx context.Context, image model.ImageInput) (*model.AnalysisResult, error)
}

// Mock returns a fixed estimate. Used when no model API key is configured.
type Mock struct{}

// NewMock creates a new Mock adapter.
func NewMock() *Mock {
	return &Mock{}
}

// Analyze returns the canned estimate, honoring cancellation.
func (m *Mock) Analyze(ctx context.Context, _ model.ImageInput) (*model.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(ErrInferenceFailed, err)
	}

	notes := "High protein, low carb. Good source of lean protein. Watch sodium if on restricted diet."
	return &model.AnalysisResult{
		Name:        "Grilled Chicken Breast",
		ServingSize: "1 breast (174g)",
		Calories:    284,
		ProteinG:    53.4,
		CarbsG:      0,
		FatG:        6.2,
		FiberG:      0,
		SugarG:      0,
		SodiumMg:    404,
		HealthNotes: &notes,
		Confidence:  0.72,
	}, nil
}
