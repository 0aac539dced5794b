package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/linregion/internal/tensor"
)

// LoadSafeTensors reads a SafeTensors file, placing every tensor on device.
func LoadSafeTensors(path string, device tensor.Device) (map[string]*tensor.RawTensor, map[string]string, error) {
	//nolint:gosec // G304: the input path is chosen by the user.
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // Read-only, nothing to flush.
	}()
	return DecodeSafeTensors(bufio.NewReader(file), device)
}

// DecodeSafeTensors reads tensors in SafeTensors format from r.
//
// Offsets are checked for overlap and bounds before any tensor is built,
// and the data checksum is verified when the metadata holds one.
func DecodeSafeTensors(r io.Reader, device tensor.Device) (map[string]*tensor.RawTensor, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	var metadata map[string]string
	if raw, ok := entries[metadataKey]; ok {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
		delete(entries, metadataKey)
	}

	headers := make(map[string]SafeTensorHeader, len(entries))
	metas := make([]TensorMeta, 0, len(entries))
	for name, raw := range entries {
		if err := ValidateTensorName(name); err != nil {
			return nil, nil, err
		}
		var h SafeTensorHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, nil, fmt.Errorf("failed to parse header of tensor %s: %w", name, err)
		}
		headers[name] = h
		metas = append(metas, TensorMeta{
			Name:   name,
			Offset: h.DataOffsets[0],
			Size:   h.DataOffsets[1] - h.DataOffsets[0],
		})
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read data: %w", err)
	}
	if err := ValidateTensorOffsets(metas, int64(len(data))); err != nil {
		return nil, nil, err
	}
	if stored, ok := metadata[ChecksumKey]; ok {
		if err := ValidateChecksum(data, stored); err != nil {
			return nil, nil, err
		}
	}

	tensors := make(map[string]*tensor.RawTensor, len(headers))
	for name, h := range headers {
		raw, err := decodeTensor(name, h, data, device)
		if err != nil {
			return nil, nil, err
		}
		tensors[name] = raw
	}
	return tensors, metadata, nil
}

func decodeTensor(name string, h SafeTensorHeader, data []byte, device tensor.Device) (*tensor.RawTensor, error) {
	dtype, err := dtypeFromSafeTensors(h.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	half := h.DType == "F16"
	elemSize := int64(dtype.Size())
	if half {
		elemSize = 2
	}

	// The shape must fit the stored bytes before anything is allocated.
	start, end := h.DataOffsets[0], h.DataOffsets[1]
	maxElems := (end - start) / elemSize
	shape := make(tensor.Shape, len(h.Shape))
	elems := int64(1)
	for i, dim := range h.Shape {
		if dim <= 0 {
			return nil, fmt.Errorf("tensor %s: invalid shape %v: dimensions must be > 0", name, h.Shape)
		}
		if dim > maxElems/elems {
			return nil, &ValidationError{
				Type:    TypeSizeMismatch,
				Tensor:  name,
				Details: fmt.Sprintf("shape %v exceeds the %d bytes stored", h.Shape, end-start),
			}
		}
		elems *= dim
		shape[i] = int(dim)
	}
	if want := elems * elemSize; want != end-start {
		return nil, &ValidationError{
			Type:    TypeSizeMismatch,
			Tensor:  name,
			Details: fmt.Sprintf("shape %v needs %d bytes, data has %d", shape, want, end-start),
		}
	}

	raw, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	if half {
		decodeFloat16(raw.AsFloat32(), data[start:end])
	} else {
		copy(raw.Data(), data[start:end])
	}
	return raw, nil
}
