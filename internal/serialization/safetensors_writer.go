package serialization

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/x448/float16"

	"github.com/born-ml/linregion/internal/tensor"
)

const metadataKey = "__metadata__"

type encodeOptions struct {
	half bool
}

// EncodeOption configures how tensors are stored.
type EncodeOption func(*encodeOptions)

// WithFloat16 stores every tensor as IEEE half precision (SafeTensors "F16"),
// halving the size of float32 data at the cost of about three significant
// digits. Such tensors are read back as float32.
func WithFloat16() EncodeOption {
	return func(o *encodeOptions) { o.half = true }
}

// SafeTensorsWriter writes tensors to a SafeTensors file.
type SafeTensorsWriter struct {
	file   *os.File
	buf    *bufio.Writer
	closed bool
}

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// NewSafeTensorsWriter creates a new SafeTensors file writer.
func NewSafeTensorsWriter(path string) (*SafeTensorsWriter, error) {
	//nolint:gosec // G304: the output path is chosen by the user.
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &SafeTensorsWriter{
		file: file,
		buf:  bufio.NewWriter(file),
	}, nil
}

// SaveSafeTensors writes tensors to a SafeTensors file at path.
func SaveSafeTensors(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string, opts ...EncodeOption) (err error) {
	writer, err := NewSafeTensorsWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := writer.Close(); err == nil {
			err = cerr
		}
	}()
	return writer.WriteStateDict(tensors, metadata, opts...)
}

// WriteStateDict writes a map from tensor names to tensors.
func (w *SafeTensorsWriter) WriteStateDict(stateDict map[string]*tensor.RawTensor, metadata map[string]string, opts ...EncodeOption) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if err := EncodeSafeTensors(w.buf, stateDict, metadata, opts...); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Close closes the writer and the underlying file.
func (w *SafeTensorsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// EncodeSafeTensors writes tensors in SafeTensors format to w.
//
// Tensors are laid out in alphabetical order by name. The checksum of the
// data section is added to the metadata under ChecksumKey.
func EncodeSafeTensors(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string, opts ...EncodeOption) error {
	var o encodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	names := slices.Sorted(maps.Keys(tensors))
	header := make(map[string]any, len(names)+1)

	var offset int64
	payloads := make([][]byte, 0, len(names))
	for _, name := range names {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		raw := tensors[name]
		if raw == nil {
			return fmt.Errorf("tensor %s is nil", name)
		}
		dtype, err := dtypeToSafeTensors(raw.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		payload := raw.Data()
		if o.half {
			dtype, payload = "F16", encodeFloat16(raw)
		}

		shape := make([]int64, len(raw.Shape()))
		for i, dim := range raw.Shape() {
			shape[i] = int64(dim)
		}
		size := int64(len(payload))
		header[name] = SafeTensorHeader{
			DType:       dtype,
			Shape:       shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
		payloads = append(payloads, payload)
	}

	readers := make([]io.Reader, len(payloads))
	for i, p := range payloads {
		readers[i] = bytes.NewReader(p)
	}
	sum, err := ComputeChecksumReader(io.MultiReader(readers...))
	if err != nil {
		return fmt.Errorf("failed to compute checksum: %w", err)
	}
	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[ChecksumKey] = hex.EncodeToString(sum[:])
	header[metadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, name := range names {
		if _, err := w.Write(payloads[i]); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// encodeFloat16 converts the elements of raw to little endian half precision.
func encodeFloat16(raw *tensor.RawTensor) []byte {
	values := raw.Float64s()
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(float32(v)).Bits())
	}
	return out
}

// decodeFloat16 converts little endian half precision data into dst.
func decodeFloat16(dst []float32, data []byte) {
	for i := range dst {
		dst[i] = float16.Frombits(binary.LittleEndian.Uint16(data[2*i:])).Float32()
	}
}

// dtypeToSafeTensors converts tensor.DataType to SafeTensors dtype string.
func dtypeToSafeTensors(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "F32", nil
	case tensor.Float64:
		return "F64", nil
	default:
		return "", fmt.Errorf("unsupported dtype %s", dt)
	}
}

// dtypeFromSafeTensors converts a SafeTensors dtype string to the
// tensor.DataType it is decoded into.
func dtypeFromSafeTensors(s string) (tensor.DataType, error) {
	switch s {
	case "F32":
		return tensor.Float32, nil
	case "F64":
		return tensor.Float64, nil
	case "F16":
		return tensor.Float32, nil
	default:
		return 0, fmt.Errorf("unsupported SafeTensors dtype %q", s)
	}
}
