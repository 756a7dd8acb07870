package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/verdantlab/plantid-api/internal/imageproc"
	"github.com/verdantlab/plantid-api/internal/nn"
)

// Five sequential blocks, each conv 3x3 pad 1 -> batchnorm -> ReLU ->
// maxpool 2x2. Channel-wise dropout after blocks 2 and 4 is identity at
// inference and carries no weights, so it never appears here.
var convBlocks = []struct {
	in  int
	out int
}{
	{3, 64},
	{64, 96},
	{96, 128},
	{128, 192},
	{192, 256},
}

const (
	poolSize     = 6   // adaptive average pool output, 6x6
	hiddenUnits  = 512 // fc1 width
	batchNormEps = 1e-5
)

// paramSpec declares one named weight tensor of the architecture, using
// the checkpoint's parameter naming scheme.
type paramSpec struct {
	name  string
	shape []int
}

func architectureParams(numClasses int) []paramSpec {
	var specs []paramSpec
	for i, b := range convBlocks {
		n := i + 1
		specs = append(specs,
			paramSpec{fmt.Sprintf("conv%d.weight", n), []int{b.out, b.in, 3, 3}},
			paramSpec{fmt.Sprintf("conv%d.bias", n), []int{b.out}},
			paramSpec{fmt.Sprintf("bn%d.weight", n), []int{b.out}},
			paramSpec{fmt.Sprintf("bn%d.bias", n), []int{b.out}},
			paramSpec{fmt.Sprintf("bn%d.running_mean", n), []int{b.out}},
			paramSpec{fmt.Sprintf("bn%d.running_var", n), []int{b.out}},
		)
	}

	flat := convBlocks[len(convBlocks)-1].out * poolSize * poolSize
	specs = append(specs,
		paramSpec{"fc1.weight", []int{hiddenUnits, flat}},
		paramSpec{"fc1.bias", []int{hiddenUnits}},
		paramSpec{"fc2.weight", []int{numClasses, hiddenUnits}},
		paramSpec{"fc2.bias", []int{numClasses}},
	)
	return specs
}

// LoadReport records the per-parameter outcome of a checkpoint load.
type LoadReport struct {
	Loaded  []string
	Skipped []SkippedParam
}

// SkippedParam describes one parameter that did not load.
type SkippedParam struct {
	Name   string
	Want   []int
	Got    []int
	Reason string
}

// modelState is one immutable weights+labels snapshot. A reload builds a
// new state and swaps it in wholesale; readers never see partial mutation.
type modelState struct {
	params map[string][]float32
	labels []string
}

// Model is the native classifier. Construct once at process start and share;
// all reads go through an atomic snapshot, so no locking is needed.
type Model struct {
	log        *zap.Logger
	numClasses int
	specs      []paramSpec
	state      atomic.Pointer[modelState]
}

// NewModel configures the architecture for numClasses output units. A
// non-positive count sizes the final layer from the default class list.
func NewModel(numClasses int, log *zap.Logger) *Model {
	if numClasses <= 0 {
		numClasses = len(DefaultClassNames)
	}
	return &Model{
		log:        log,
		numClasses: numClasses,
		specs:      architectureParams(numClasses),
	}
}

// NumClasses returns the configured final-layer width.
func (m *Model) NumClasses() int { return m.numClasses }

// Loaded reports whether a checkpoint has been loaded.
func (m *Model) Loaded() bool { return m.state.Load() != nil }

// Labels returns the class names bound to the loaded checkpoint, or nil
// before a load.
func (m *Model) Labels() []string {
	st := m.state.Load()
	if st == nil {
		return nil
	}
	return st.labels
}

type checkpointTensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// LoadCheckpoint reads a checkpoint file and reconciles it against the
// configured architecture parameter by parameter. A tensor loads only when
// its shape matches the declared layer shape; everything else is skipped
// individually and recorded in the returned report, never aborting the
// load. Skipped parameters keep default initialization (zero weights,
// identity batch-norm statistics), which lets feature-extraction layers be
// reused from checkpoints trained with a different class count.
func (m *Model) LoadCheckpoint(path string) (*LoadReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	stateDict, classNames, err := parseCheckpoint(raw)
	if err != nil {
		return nil, err
	}

	params := defaultParams(m.specs)
	report := &LoadReport{}

	for _, spec := range m.specs {
		entry, ok := stateDict[spec.name]
		if !ok {
			report.Skipped = append(report.Skipped, SkippedParam{
				Name:   spec.name,
				Want:   spec.shape,
				Reason: "missing from checkpoint",
			})
			continue
		}

		var tensor checkpointTensor
		if err := json.Unmarshal(entry, &tensor); err != nil {
			report.Skipped = append(report.Skipped, SkippedParam{
				Name:   spec.name,
				Want:   spec.shape,
				Reason: "unparsable tensor",
			})
			continue
		}

		if !shapeEqual(tensor.Shape, spec.shape) {
			report.Skipped = append(report.Skipped, SkippedParam{
				Name:   spec.name,
				Want:   spec.shape,
				Got:    tensor.Shape,
				Reason: "shape mismatch",
			})
			continue
		}

		if len(tensor.Data) != elemCount(tensor.Shape) {
			report.Skipped = append(report.Skipped, SkippedParam{
				Name:   spec.name,
				Want:   spec.shape,
				Got:    tensor.Shape,
				Reason: "data length does not match shape",
			})
			continue
		}

		params[spec.name] = tensor.Data
		report.Loaded = append(report.Loaded, spec.name)
	}

	declared := make(map[string]bool, len(m.specs))
	for _, spec := range m.specs {
		declared[spec.name] = true
	}
	var extras []string
	for name := range stateDict {
		if !declared[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		report.Skipped = append(report.Skipped, SkippedParam{
			Name:   name,
			Reason: "not part of the architecture",
		})
	}

	labels := classNames
	if len(labels) == 0 {
		labels = DefaultClassNames
		m.log.Warn("checkpoint carries no class_names, falling back to built-in list",
			zap.String("path", path))
	}
	if len(labels) != m.numClasses {
		m.log.Warn("class-name count does not match final layer width",
			zap.Int("class_names", len(labels)),
			zap.Int("num_classes", m.numClasses))
	}

	m.state.Store(&modelState{params: params, labels: labels})

	m.log.Info("checkpoint loaded",
		zap.String("path", path),
		zap.Int("loaded_params", len(report.Loaded)),
		zap.Int("skipped_params", len(report.Skipped)),
		zap.Int("classes", len(labels)))

	return report, nil
}

// parseCheckpoint accepts either a raw parameter-name mapping or a wrapper
// holding that mapping under "model_state_dict", optionally accompanied by
// a "class_names" array.
func parseCheckpoint(raw []byte) (map[string]json.RawMessage, []string, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, nil, fmt.Errorf("parse checkpoint: %w", err)
	}

	var classNames []string
	if entry, ok := root["class_names"]; ok {
		if err := json.Unmarshal(entry, &classNames); err != nil {
			return nil, nil, fmt.Errorf("parse class_names: %w", err)
		}
		delete(root, "class_names")
	}

	if entry, ok := root["model_state_dict"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(entry, &inner); err != nil {
			return nil, nil, fmt.Errorf("parse model_state_dict: %w", err)
		}
		return inner, classNames, nil
	}

	return root, classNames, nil
}

// defaultParams builds identity-safe initial values: zero weights and
// biases, unit batch-norm scale and running variance.
func defaultParams(specs []paramSpec) map[string][]float32 {
	params := make(map[string][]float32, len(specs))
	for _, spec := range specs {
		buf := make([]float32, elemCount(spec.shape))
		if len(spec.name) > 3 && spec.name[:2] == "bn" {
			suffix := spec.name[4:]
			if suffix == "weight" || suffix == "running_var" {
				for i := range buf {
					buf[i] = 1
				}
			}
		}
		params[spec.name] = buf
	}
	return params
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func elemCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Predict runs the deterministic forward pass and returns softmax
// probabilities. Batch normalization uses running statistics and dropout
// is identity, per the inference-mode contract.
func (m *Model) Predict(t *imageproc.Tensor) ([]float32, error) {
	st := m.state.Load()
	if st == nil {
		return nil, ErrModelNotLoaded
	}

	if t.Channels != convBlocks[0].in || len(t.Data) != t.Channels*t.Height*t.Width {
		return nil, fmt.Errorf("unexpected input tensor shape %dx%dx%d",
			t.Channels, t.Height, t.Width)
	}

	x := t.Data
	c, h, w := t.Channels, t.Height, t.Width

	for i, b := range convBlocks {
		n := i + 1
		x = nn.Conv2D(x, c, h, w,
			st.params[fmt.Sprintf("conv%d.weight", n)],
			st.params[fmt.Sprintf("conv%d.bias", n)],
			b.out)
		c = b.out
		nn.BatchNorm(x, c, h, w,
			st.params[fmt.Sprintf("bn%d.weight", n)],
			st.params[fmt.Sprintf("bn%d.bias", n)],
			st.params[fmt.Sprintf("bn%d.running_mean", n)],
			st.params[fmt.Sprintf("bn%d.running_var", n)],
			batchNormEps)
		nn.ReLU(x)
		x, h, w = nn.MaxPool2(x, c, h, w)
	}

	x = nn.AdaptiveAvgPool(x, c, h, w, poolSize, poolSize)

	flat := c * poolSize * poolSize
	x = nn.Linear(x, st.params["fc1.weight"], st.params["fc1.bias"], flat, hiddenUnits)
	nn.ReLU(x)

	logits := nn.Linear(x, st.params["fc2.weight"], st.params["fc2.bias"], hiddenUnits, m.numClasses)
	return nn.Softmax(logits), nil
}
