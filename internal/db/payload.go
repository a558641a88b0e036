package db

import (
	"bytes"

	"github.com/klauspost/compress/zstd"
)

// Raw event bodies are stored zstd-compressed. Frames carry a magic number,
// so rows written before compression was enabled are returned as-is.
var (
	payloadEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	payloadDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func compressPayload(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	return payloadEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompressPayload(stored []byte) ([]byte, error) {
	if !isZstdFrame(stored) {
		return stored, nil
	}
	return payloadDecoder.DecodeAll(stored, nil)
}

func isZstdFrame(b []byte) bool {
	return bytes.HasPrefix(b, zstdMagic)
}
