package vm

import (
	"encoding/binary"
	"testing"
)

func buildHeader(textOffset, imageSize uint64) []byte {
	b := make([]byte, 64)
	binary.LittleEndian.PutUint64(b[kernelTextOffsetOffset:], textOffset)
	binary.LittleEndian.PutUint64(b[kernelImageSizeOffset:], imageSize)
	binary.LittleEndian.PutUint32(b[kernelHeaderMagicOffset:], kernelHeaderMagic)
	return b
}

func TestParseKernelHeaderUsesDeclaredTextOffset(t *testing.T) {
	h, err := ParseKernelHeader(buildHeader(0x80000, 0x01400000))
	if err != nil {
		t.Fatal(err)
	}
	if h.TextOffset != 0x80000 || h.ImageSize != 0x01400000 {
		t.Errorf("got %+v", h)
	}
}

func TestParseKernelHeaderDefaultsTextOffsetWhenImageSizeZero(t *testing.T) {
	h, err := ParseKernelHeader(buildHeader(0x123456, 0))
	if err != nil {
		t.Fatal(err)
	}
	if h.TextOffset != defaultTextOffset {
		t.Errorf("TextOffset = %#x, want default %#x", h.TextOffset, defaultTextOffset)
	}
}

func TestParseKernelHeaderRejectsBadMagic(t *testing.T) {
	b := buildHeader(0x80000, 0x1000)
	b[kernelHeaderMagicOffset] = 0
	if _, err := ParseKernelHeader(b); err == nil {
		t.Fatal("expected magic mismatch error")
	}
}
