package identify

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdantlab/plantid-api/internal/care"
	"github.com/verdantlab/plantid-api/internal/classify"
	"github.com/verdantlab/plantid-api/internal/imageproc"
)

// stubPredictor is a test double; production code always fails fast on an
// unloaded model instead of synthesizing output like this.
type stubPredictor struct {
	probs  []float32
	labels []string
	err    error
}

func (s *stubPredictor) Predict(*imageproc.Tensor) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.probs, nil
}

func (s *stubPredictor) Labels() []string { return s.labels }

func newCareStore(t *testing.T, records []care.Record) *care.Store {
	t.Helper()

	raw, err := json.Marshal(records)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "care.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	store := care.NewStore(path, zap.NewNop())
	require.NoError(t, store.Load())
	return store
}

func testImage(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{30, 160, 60, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIdentifyRanksAndAnnotates(t *testing.T) {
	store := newCareStore(t, []care.Record{
		{Name: "monstera", URL: "https://example.com/monstera", Care: map[string]string{
			"water": "Water when the top inch of soil is dry",
		}},
	})
	predictor := &stubPredictor{
		probs:  []float32{0.1, 0.7, 0.2},
		labels: []string{"aloe", "monstera", "triffid"},
	}
	service := NewService(imageproc.NewNormalizer(zap.NewNop()), predictor, store, zap.NewNop())

	matches, err := service.Identify(testImage(t), 2)

	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "monstera", matches[0].Name)
	assert.Equal(t, 1, matches[0].ClassIndex)
	require.NotNil(t, matches[0].Care, "resolved species should carry its care record")
	assert.Equal(t, "https://example.com/monstera", matches[0].Care.URL)

	assert.Equal(t, "triffid", matches[1].Name)
	assert.Nil(t, matches[1].Care, "absent species is not an error")
	assert.LessOrEqual(t, matches[1].Confidence, matches[0].Confidence)
}

func TestIdentifyPropagatesModelNotLoaded(t *testing.T) {
	store := newCareStore(t, nil)
	predictor := &stubPredictor{err: classify.ErrModelNotLoaded}
	service := NewService(imageproc.NewNormalizer(zap.NewNop()), predictor, store, zap.NewNop())

	_, err := service.Identify(testImage(t), 5)

	assert.ErrorIs(t, err, classify.ErrModelNotLoaded)
}

func TestIdentifyPropagatesInvalidImage(t *testing.T) {
	store := newCareStore(t, nil)
	predictor := &stubPredictor{probs: []float32{1}, labels: []string{"aloe"}}
	service := NewService(imageproc.NewNormalizer(zap.NewNop()), predictor, store, zap.NewNop())

	_, err := service.Identify([]byte("not an image"), 5)

	assert.ErrorIs(t, err, imageproc.ErrInvalidImage)
}
