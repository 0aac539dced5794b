package serialization

import (
	"fmt"
	"maps"
	"strconv"

	"github.com/born-ml/linregion/internal/affine"
	"github.com/born-ml/linregion/internal/tensor"
)

// LayersKey is the metadata key holding the number of stored graphs.
const LayersKey = "layers"

func weightKey(i int) string { return fmt.Sprintf("layers.%d.weight_graph", i) }
func biasKey(i int) string   { return fmt.Sprintf("layers.%d.bias_graph", i) }

// SaveGraphs writes the graphs of a propagation chain to a SafeTensors file,
// one weight and one bias tensor per layer.
func SaveGraphs(path string, graphs []*affine.Graph, metadata map[string]string, opts ...EncodeOption) error {
	tensors := make(map[string]*tensor.RawTensor, 2*len(graphs))
	for i, g := range graphs {
		if g == nil {
			return fmt.Errorf("graph %d is nil", i)
		}
		if err := g.Validate(); err != nil {
			return fmt.Errorf("graph %d: %w", i, err)
		}
		tensors[weightKey(i)] = g.Weight
		tensors[biasKey(i)] = g.Bias
	}

	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[LayersKey] = strconv.Itoa(len(graphs))
	return SaveSafeTensors(path, tensors, meta, opts...)
}

// LoadGraphs reads graphs written by SaveGraphs, placing them on device.
// Each graph is validated before it is returned.
func LoadGraphs(path string, device tensor.Device) ([]*affine.Graph, map[string]string, error) {
	tensors, metadata, err := LoadSafeTensors(path, device)
	if err != nil {
		return nil, nil, err
	}
	n, err := strconv.Atoi(metadata[LayersKey])
	if err != nil || n < 0 {
		return nil, nil, fmt.Errorf("invalid %q metadata %q", LayersKey, metadata[LayersKey])
	}
	if len(tensors) != 2*n {
		return nil, nil, fmt.Errorf("expected %d tensors for %d layers, found %d", 2*n, n, len(tensors))
	}

	graphs := make([]*affine.Graph, n)
	for i := range n {
		weight, ok := tensors[weightKey(i)]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingTensor, weightKey(i))
		}
		bias, ok := tensors[biasKey(i)]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingTensor, biasKey(i))
		}
		g := &affine.Graph{Weight: weight, Bias: bias}
		if err := g.Validate(); err != nil {
			return nil, nil, fmt.Errorf("graph %d: %w", i, err)
		}
		graphs[i] = g
	}
	return graphs, metadata, nil
}
