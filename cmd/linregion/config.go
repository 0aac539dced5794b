package main

import (
	"flag"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/linregion/internal/tensor"
)

// config of the check command.
type config struct {
	batch    int
	channels []int // input channels followed by each layer's output channels
	size     int   // input height and width
	kernel   int
	stride   int
	padding  int
	seed     uint64
	tol      float64
	dtype    tensor.DataType
	save     string // SafeTensors file receiving the graphs, if set
	half     bool   // store the saved graphs in half precision
}

func parseCheckFlags(args []string) (*config, error) {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	cfg := &config{}
	fs.IntVar(&cfg.batch, "batch", 2, "Number of input samples.")
	channels := fs.String("channels", "1,4,4", "Comma-separated channel counts: input channels, then the "+
		"output channels of every convolution of the stack.")
	fs.IntVar(&cfg.size, "size", 8, "Input height and width.")
	fs.IntVar(&cfg.kernel, "kernel", 3, "Kernel height and width of every convolution.")
	fs.IntVar(&cfg.stride, "stride", 1, "Stride of every convolution.")
	fs.IntVar(&cfg.padding, "padding", 1, "Zero padding of every convolution.")
	fs.Uint64Var(&cfg.seed, "seed", 42, "Seed of the random weights and inputs.")
	fs.Float64Var(&cfg.tol, "tol", 1e-6, "Maximum absolute difference allowed between the affine map and the real output.")
	dtype := fs.String("dtype", "float64", "Element type: float32 or float64.")
	fs.StringVar(&cfg.save, "save", "", "If set, write the graph of every layer to this SafeTensors file.")
	fs.BoolVar(&cfg.half, "half", false, "Store the graphs written by -save in half precision.")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.Errorf("unexpected arguments %q", fs.Args())
	}

	var err error
	if cfg.channels, err = parseChannels(*channels); err != nil {
		return nil, err
	}
	if cfg.dtype, err = parseDType(*dtype); err != nil {
		return nil, err
	}
	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseChannels(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	channels := make([]int, 0, len(parts))
	for _, p := range parts {
		c, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "-channels=%q", s)
		}
		channels = append(channels, c)
	}
	return channels, nil
}

func parseDType(s string) (tensor.DataType, error) {
	switch s {
	case "float32":
		return tensor.Float32, nil
	case "float64":
		return tensor.Float64, nil
	}
	return 0, errors.Errorf("-dtype=%q: must be float32 or float64", s)
}

func (c *config) params() tensor.Conv2DParams {
	return tensor.NewConv2DParams(c.stride, c.padding)
}

// validate checks the flags and that every layer of the stack has a non-empty output.
func (c *config) validate() error {
	if c.batch <= 0 {
		return errors.Errorf("-batch must be > 0, got %d", c.batch)
	}
	if len(c.channels) < 2 {
		return errors.Errorf("-channels needs the input channels and at least one layer, got %v", c.channels)
	}
	for _, ch := range c.channels {
		if ch <= 0 {
			return errors.Errorf("-channels must all be > 0, got %v", c.channels)
		}
	}
	if c.size <= 0 || c.kernel <= 0 {
		return errors.Errorf("-size and -kernel must be > 0, got %d and %d", c.size, c.kernel)
	}
	if c.tol <= 0 {
		return errors.Errorf("-tol must be > 0, got %g", c.tol)
	}
	if c.half && c.save == "" {
		return errors.New("-half requires -save")
	}
	if err := c.params().Validate(); err != nil {
		return errors.Wrap(err, "-stride/-padding")
	}
	size := c.size
	for layer := range c.numLayers() {
		size = c.params().OutputSize(size, size, c.kernel, c.kernel)[0]
		if size <= 0 {
			return errors.Errorf("layer %d: kernel %d with %s leaves no output", layer, c.kernel, c.params())
		}
	}
	return nil
}

func (c *config) numLayers() int {
	return len(c.channels) - 1
}
