package trainer

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gopjrt/dtypes"
)

// ModelConfig describes the classifier network.
type ModelConfig struct {
	// ContWidth and CatWidth are the widths of the continuous and
	// categorical input columns.
	ContWidth int
	CatWidth  int

	// NumClasses is the output dimension.
	NumClasses int

	// HiddenUnits per hidden layer, e.g. {128, 128, 128}.
	HiddenUnits []int

	// ContMeans and ContVars normalize the continuous inputs at the first
	// layer, so the saved model is self-contained.
	ContMeans []float32
	ContVars  []float32
}

// Model holds the network definition. The parameters themselves live in the
// gomlx context passed to Forward.
type Model struct {
	cfg     ModelConfig
	invStds []float32
}

// NewModel validates the configuration.
func NewModel(cfg ModelConfig) (*Model, error) {
	if cfg.ContWidth <= 0 {
		return nil, errors.Errorf("continuous input width must be positive, got %d", cfg.ContWidth)
	}
	if cfg.CatWidth < 0 {
		return nil, errors.Errorf("categorical input width must be non-negative, got %d", cfg.CatWidth)
	}
	if cfg.NumClasses < 2 {
		return nil, errors.Errorf("need at least 2 classes, got %d", cfg.NumClasses)
	}
	if len(cfg.HiddenUnits) == 0 {
		return nil, errors.New("no hidden units configured")
	}
	for i, u := range cfg.HiddenUnits {
		if u <= 0 {
			return nil, errors.Errorf("hidden layer %d has invalid size %d", i, u)
		}
	}
	if len(cfg.ContMeans) != cfg.ContWidth || len(cfg.ContVars) != cfg.ContWidth {
		return nil, errors.Errorf("normalization stats must have width %d, got %d/%d",
			cfg.ContWidth, len(cfg.ContMeans), len(cfg.ContVars))
	}

	// Precompute 1/std with a floor so constant columns stay finite.
	invStds := make([]float32, cfg.ContWidth)
	for i, v := range cfg.ContVars {
		std := math.Sqrt(math.Max(float64(v), 1e-6))
		invStds[i] = float32(1 / std)
	}
	return &Model{cfg: cfg, invStds: invStds}, nil
}

// Forward builds the network graph: normalized continuous inputs concatenated
// with the (float-converted) categorical inputs, a ReLU MLP trunk and a
// linear readout producing class logits.
func (m *Model) Forward(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	cont := inputs[0]
	g := cont.Graph()

	means := graph.Const(g, [][]float32{m.cfg.ContMeans})
	invStds := graph.Const(g, [][]float32{m.invStds})
	x := graph.Mul(graph.Sub(cont, means), invStds)

	if m.cfg.CatWidth > 0 {
		cat := graph.ConvertDType(inputs[1], dtypes.Float32)
		x = graph.Concatenate([]*graph.Node{x, cat}, -1)
	}

	for i, units := range m.cfg.HiddenUnits {
		x = layers.DenseWithBias(ctx.In(fmt.Sprintf("dense_%d", i)), x, units)
		x = activations.Relu(x)
	}
	logits := layers.DenseWithBias(ctx.In("readout"), x, m.cfg.NumClasses)
	return []*graph.Node{logits}
}
