// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package refstore

import (
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks zstd-compressed stores.
const CompressedSuffix = ".zst"

var (
	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
)

// IsCompressed reports whether path names a compressed store.
func IsCompressed(path string) bool {
	return strings.HasSuffix(path, CompressedSuffix)
}

func encoder() (*zstd.Encoder, error) {
	encOnce.Do(func() {
		// Stores are written once and read many times.
		enc, encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	return enc, encErr
}

func decoder() (*zstd.Decoder, error) {
	decOnce.Do(func() {
		// 0 uses GOMAXPROCS.
		dec, decErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderLowmem(false))
	})
	return dec, decErr
}
