package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/verdantlab/plantid-api/internal/imageproc"
	"github.com/verdantlab/plantid-api/internal/nn"
)

const (
	defaultPoolSize = 4
	acquireTimeout  = 5 * time.Second
)

// ONNXMetadata describes the exported model: tensor shapes and the class
// list bound to the weights.
type ONNXMetadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// ONNXOptions configures the ONNX-backed predictor.
type ONNXOptions struct {
	ModelPath    string
	MetadataPath string
	PoolSize     int
}

type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *onnxSession) destroy() {
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}

type onnxPoolMetrics struct {
	mu              sync.Mutex
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
}

// ONNXPredictor is the alternate Predictor backend delegating inference to
// ONNX Runtime. Sessions own fixed input/output buffers and are therefore
// not safe for concurrent use, so they are handed out through a pool.
type ONNXPredictor struct {
	log      *zap.Logger
	metadata ONNXMetadata
	sessions chan *onnxSession
	size     int
	mu       sync.Mutex
	closed   bool
	metrics  onnxPoolMetrics
}

func NewONNXPredictor(opts ONNXOptions, log *zap.Logger) (*ONNXPredictor, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize ONNX environment: %w", err)
	}

	metaRaw, err := os.ReadFile(opts.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("read model metadata: %w", err)
	}
	var metadata ONNXMetadata
	if err := json.Unmarshal(metaRaw, &metadata); err != nil {
		return nil, fmt.Errorf("parse model metadata: %w", err)
	}

	size := opts.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}

	p := &ONNXPredictor{
		log:      log,
		metadata: metadata,
		sessions: make(chan *onnxSession, size),
		size:     size,
	}

	for i := 0; i < size; i++ {
		session, err := newONNXSession(opts.ModelPath, metadata)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("initialize session %d: %w", i, err)
		}
		p.sessions <- session
	}

	log.Info("ONNX predictor ready",
		zap.String("model", opts.ModelPath),
		zap.Int("pool_size", size),
		zap.Int("classes", len(metadata.Classes)))

	return p, nil
}

func newONNXSession(modelPath string, metadata ONNXMetadata) (*onnxSession, error) {
	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	return &onnxSession{session: session, input: inputTensor, output: outputTensor}, nil
}

// Predict copies the tensor into a pooled session, runs inference, and
// converts the logits to probabilities.
func (p *ONNXPredictor) Predict(t *imageproc.Tensor) ([]float32, error) {
	session, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release(session)

	input := session.input.GetData()
	if len(t.Data) != len(input) {
		return nil, fmt.Errorf("input tensor size %d does not match model input %d",
			len(t.Data), len(input))
	}
	copy(input, t.Data)

	if err := session.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	logits := make([]float32, len(session.output.GetData()))
	copy(logits, session.output.GetData())

	return nn.Softmax(logits), nil
}

func (p *ONNXPredictor) Labels() []string {
	return p.metadata.Classes
}

func (p *ONNXPredictor) acquire() (*onnxSession, error) {
	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, fmt.Errorf("predictor is closed")
		}
		p.metrics.mu.Lock()
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-time.After(acquireTimeout):
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for an inference session")
	}
}

func (p *ONNXPredictor) release(session *onnxSession) {
	p.metrics.mu.Lock()
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	// The send must happen under the same lock as the closed check, or a
	// concurrent Close could close the channel in between and panic the
	// sender. The channel has pool capacity, so the send never blocks.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		session.destroy()
		return
	}
	p.sessions <- session
}

// Close destroys all pooled sessions and tears down the ONNX environment.
// Sessions still checked out are destroyed when their request releases them.
func (p *ONNXPredictor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.sessions)
	p.mu.Unlock()

	for session := range p.sessions {
		session.destroy()
	}
	ort.DestroyEnvironment()
}
