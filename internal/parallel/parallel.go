// Package parallel splits independent index ranges across goroutines for the
// CPU kernels.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine.
}

// DefaultConfig returns a configuration using one worker per CPU.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// Sequential returns a configuration that runs everything on the calling goroutine.
func Sequential() Config {
	return Config{NumWorkers: 1, MinChunkSize: 1}
}

// WithMinChunkSize returns a copy of cfg with the given minimum chunk size.
// Heavy work items, like one matrix product per index, use a chunk size of 1.
func (cfg Config) WithMinChunkSize(size int) Config {
	cfg.MinChunkSize = max(size, 1)
	return cfg
}

// For executes f(i) for i in [0, n). Indices are split into contiguous
// chunks, one goroutine each. It runs sequentially when parallelism is
// disabled or n is below the minimum chunk size.
func For(n int, f func(i int), cfg Config) {
	workers := max(cfg.NumWorkers, 1)
	minChunk := max(cfg.MinChunkSize, 1)
	if !cfg.Enabled || workers == 1 || n < 2*minChunk {
		for i := range n {
			f(i)
		}
		return
	}

	chunkSize := max((n+workers-1)/workers, minChunk)
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Go(func() {
			for i := start; i < end; i++ {
				f(i)
			}
		})
	}
	wg.Wait()
}

// ForBatch runs f over every (batch, channel) pair, the iteration pattern of
// per-channel kernels on [N, C, H, W] tensors.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	if channels == 0 {
		return
	}
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
