// Package classify owns the species classifier: the fixed convolutional
// architecture, checkpoint loading, and confidence ranking over its output.
package classify

import (
	"errors"

	"github.com/verdantlab/plantid-api/internal/imageproc"
)

// ErrModelNotLoaded reports a predict call before any successful weight
// load. The classifier never fabricates predictions for an unloaded model.
var ErrModelNotLoaded = errors.New("model not loaded")

// Prediction is a single ranked classification result.
type Prediction struct {
	Name       string  `json:"name"`
	Confidence float32 `json:"confidence"`
	ClassIndex int     `json:"class_index"`
}

// Predictor produces class probabilities from a normalized image tensor.
// Implemented by the native Model and by the ONNX-backed predictor.
type Predictor interface {
	// Predict returns the full probability distribution over classes,
	// summing to 1.
	Predict(t *imageproc.Tensor) ([]float32, error)
	// Labels returns the class-name list bound to the loaded weights,
	// index-aligned with the probability vector. Nil before a load.
	Labels() []string
}

// DefaultClassNames is the fallback label ordering used when a checkpoint
// carries no class_names entry. Checkpoints should always carry their own
// list; relying on this duplication is a known correctness risk and is
// logged as a warning when it happens.
var DefaultClassNames = []string{
	"anthurium",
	"aloe",
	"alocasia",
	"begonia",
	"bird of paradise",
	"calathea",
	"chinese evergreen",
	"ctenanthe",
	"dracaena",
	"dieffenbachia",
	"ficus",
	"ivy",
	"money tree",
	"monstera",
	"peace lily",
	"poinsettia",
	"hypoestes",
	"pothos",
	"schefflera",
	"snake plant",
	"maranta",
	"yucca",
	"zamioculcas zamiifolia",
}
