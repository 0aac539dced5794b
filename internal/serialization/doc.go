// Package serialization stores affine graphs in SafeTensors files.
//
// A SafeTensors file is laid out as:
//
//	[8 bytes: header size, uint64 little endian]
//	[header: JSON object, tensor name -> {dtype, shape, data_offsets}]
//	[data: raw little endian tensor bytes]
//
// The header may carry a "__metadata__" object of string pairs. Files
// written here record a SHA-256 of the data section under ChecksumKey,
// and readers verify it when present.
//
// SaveGraphs and LoadGraphs store one weight and one bias tensor per
// layer of a propagation chain, so the region hyperplanes can be
// consumed outside this process.
package serialization
