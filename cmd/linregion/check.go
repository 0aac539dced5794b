package main

import (
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"github.com/born-ml/linregion/internal/affine"
	"github.com/born-ml/linregion/internal/backend/cpu"
	"github.com/born-ml/linregion/internal/nn"
	"github.com/born-ml/linregion/internal/serialization"
	"github.com/born-ml/linregion/internal/tensor"
)

// layerReport is the outcome of checking one layer of the stack.
type layerReport struct {
	layer      string
	outShape   tensor.Shape
	graphBytes int
	path       string
	maxErr     float64
	graph      *affine.Graph
}

func runCheck(cfg *config) ([]layerReport, error) {
	if cfg.dtype == tensor.Float32 {
		return checkStack[float32](cfg)
	}
	return checkStack[float64](cfg)
}

// checkStack builds a random stack as described by cfg, propagates the
// affine map through it and measures, for every layer, the largest
// difference between the map evaluated at the input and the layer output.
func checkStack[T tensor.Float](cfg *config) ([]layerReport, error) {
	backend := cpu.New()
	rng := rand.New(rand.NewPCG(cfg.seed, 0))

	stack := nn.NewStack[T, *cpu.CPUBackend]()
	convs := make([]*nn.Conv2D[T, *cpu.CPUBackend], 0, cfg.numLayers())
	for i := range cfg.numLayers() {
		conv := nn.NewConv2D[T](cfg.channels[i], cfg.channels[i+1], cfg.kernel, cfg.kernel, cfg.params(), true, rng, backend)
		// NewConv2D starts from a zero bias, which would leave the bias graph untested.
		bias := conv.Bias().Tensor().Data()
		for j := range bias {
			bias[j] = T(0.1 * rng.NormFloat64())
		}
		convs = append(convs, conv)
		stack.Add(nn.NewGraphConv2D(conv))
	}

	x := tensor.Randn[T](tensor.Shape{cfg.batch, cfg.channels[0], cfg.size, cfg.size}, rng, backend)
	klog.V(1).Infof("check: %d layers over input %s (%s)", stack.Len(), x.Shape(), cfg.dtype)

	traces := stack.Forward(x)
	reports := make([]layerReport, 0, len(traces))
	for i, trace := range traces {
		got, err := trace.Graph.Eval(backend, x.Raw())
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		path := "factored"
		if i == 0 {
			path = "direct"
		}
		reports = append(reports, layerReport{
			layer:      convs[i].String(),
			outShape:   trace.Output.Shape(),
			graphBytes: trace.Graph.MemoryBytes(),
			path:       path,
			maxErr:     maxAbsDiff(got.Float64s(), trace.Output.Raw().Float64s()),
			graph:      trace.Graph,
		})
	}
	return reports, nil
}

// maxAbsDiff returns the largest elementwise difference, or NaN if either
// side holds a NaN.
func maxAbsDiff(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	if floats.HasNaN(a) || floats.HasNaN(b) {
		return math.NaN()
	}
	return floats.Distance(a, b, math.Inf(1))
}

// failed reports whether the layer's error is above tol. A NaN error fails.
func (r layerReport) failed(tol float64) bool {
	return !(r.maxErr <= tol)
}

func countFailures(reports []layerReport, tol float64) int {
	var n int
	for _, r := range reports {
		if r.failed(tol) {
			n++
		}
	}
	return n
}

// saveGraphs writes the graphs of a check run to cfg.save, with the run
// settings as metadata.
func saveGraphs(cfg *config, reports []layerReport) error {
	graphs := make([]*affine.Graph, len(reports))
	for i, r := range reports {
		graphs[i] = r.graph
	}
	metadata := map[string]string{
		"run_id":      uuid.NewString(),
		"input_shape": tensor.Shape{cfg.batch, cfg.channels[0], cfg.size, cfg.size}.String(),
		"seed":        strconv.FormatUint(cfg.seed, 10),
		"params":      cfg.params().String(),
	}
	var opts []serialization.EncodeOption
	if cfg.half {
		opts = append(opts, serialization.WithFloat16())
	}
	if err := serialization.SaveGraphs(cfg.save, graphs, metadata, opts...); err != nil {
		return errors.Wrapf(err, "saving graphs to %s", cfg.save)
	}
	klog.V(1).Infof("check: wrote %d graphs to %s", len(graphs), cfg.save)
	return nil
}
