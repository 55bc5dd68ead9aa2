package vm

import (
	"encoding/binary"
	"fmt"
)

// ARM64 Linux Image header fields this loader reads, per spec.md §4.9
// and the ARM64 boot protocol: a magic value at offset 56, a
// little-endian text_offset at offset 8, and image_size at offset 16.
const (
	kernelHeaderMagicOffset = 56
	kernelHeaderMagic       = 0x644D5241 // "ARM\x64"
	kernelTextOffsetOffset  = 8
	kernelImageSizeOffset   = 16

	defaultTextOffset = 0x80000
	twoMiB            = 1 << 21
)

// KernelHeader is the subset of the Image header create_vm needs to
// place the kernel and compute its entry point.
type KernelHeader struct {
	TextOffset uint64
	ImageSize  uint64
}

// ParseKernelHeader validates the magic value and extracts text_offset
// and image_size, substituting the architecture-mandated default
// text_offset when image_size is zero (an older/minimal Image that
// doesn't declare one).
func ParseKernelHeader(image []byte) (KernelHeader, error) {
	if len(image) < kernelHeaderMagicOffset+4 {
		return KernelHeader{}, fmt.Errorf("vm: kernel image too short for an Image header")
	}
	magic := binary.LittleEndian.Uint32(image[kernelHeaderMagicOffset : kernelHeaderMagicOffset+4])
	if magic != kernelHeaderMagic {
		return KernelHeader{}, fmt.Errorf("vm: kernel image magic %#x, want %#x", magic, kernelHeaderMagic)
	}

	textOffset := binary.LittleEndian.Uint64(image[kernelTextOffsetOffset : kernelTextOffsetOffset+8])
	imageSize := binary.LittleEndian.Uint64(image[kernelImageSizeOffset : kernelImageSizeOffset+8])
	if imageSize == 0 {
		textOffset = defaultTextOffset
	}
	return KernelHeader{TextOffset: textOffset, ImageSize: imageSize}, nil
}

// alignUp2MiB rounds size up to the next 2 MiB boundary, the
// granularity create_vm uses to separate the device tree blob from the
// kernel image in guest RAM.
func alignUp2MiB(size uint64) uint64 {
	return (size + twoMiB - 1) &^ (twoMiB - 1)
}
