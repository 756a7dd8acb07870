// Package identify composes the core pipeline: bytes -> normalizer ->
// classifier -> ranked predictions -> care annotation.
package identify

import (
	"errors"

	"go.uber.org/zap"

	"github.com/verdantlab/plantid-api/internal/care"
	"github.com/verdantlab/plantid-api/internal/classify"
	"github.com/verdantlab/plantid-api/internal/imageproc"
)

// Match is a ranked prediction enriched with the care record resolved for
// it, when one exists.
type Match struct {
	classify.Prediction
	Care *care.Record `json:"care,omitempty"`
}

type Service struct {
	normalizer *imageproc.Normalizer
	predictor  classify.Predictor
	store      *care.Store
	log        *zap.Logger
}

func NewService(normalizer *imageproc.Normalizer, predictor classify.Predictor, store *care.Store, log *zap.Logger) *Service {
	return &Service{
		normalizer: normalizer,
		predictor:  predictor,
		store:      store,
		log:        log,
	}
}

// Identify runs the full pipeline on raw image bytes and returns the topK
// predictions ordered by descending confidence. Failures propagate
// unmodified: imageproc.ErrInvalidImage for bad input,
// classify.ErrModelNotLoaded when no checkpoint is loaded.
func (s *Service) Identify(raw []byte, topK int) ([]Match, error) {
	tensor, err := s.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	probs, err := s.predictor.Predict(tensor)
	if err != nil {
		return nil, err
	}

	preds := classify.TopK(probs, s.predictor.Labels(), topK)

	matches := make([]Match, 0, len(preds))
	for _, p := range preds {
		match := Match{Prediction: p}
		record, err := s.store.Get(p.Name)
		if err == nil {
			match.Care = record
		} else if !errors.Is(err, care.ErrNotFound) {
			return nil, err
		}
		matches = append(matches, match)
	}

	s.log.Debug("identification complete",
		zap.Int("top_k", topK),
		zap.Int("matches", len(matches)))

	return matches, nil
}
