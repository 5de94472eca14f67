/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package fingerprint computes the 128-bit prefix key (PK) that identifies a
// block-aligned token prefix under a given model id and block size. The
// serialization is a fixed canonical byte layout so that two processes
// given identical inputs always agree on the same key.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// version is the first byte of every serialized prefix. Bumping it
// partitions old and new object keys without any other format change.
const version = 1

// Key is a 128-bit prefix fingerprint (PK).
type Key [16]byte

// String renders the key as lowercase hex, matching the object-key layout
// in spec.md §3 ({model_id}/b{block_size}/{pk_hex}/{index}.kv).
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ErrModelIDTooLong is returned by Compute when the model id cannot be
// length-prefixed with a 16-bit field.
var ErrModelIDTooLong = fmt.Errorf("model id exceeds %d bytes", math.MaxUint16)

// Compute hashes the canonical encoding of (version, blockSize, modelID,
// tokens) with an unseeded 128-bit hash (XXH3-128). Equality of Key for a
// given (modelID, blockSize) implies equality of the token sequence that
// produced it, up to XXH3-128's negligible accidental-collision
// probability; the hash is not collision-resistant against adversarial
// inputs.
func Compute(tokens []uint32, blockSize uint32, modelID string) (Key, error) {
	if len(modelID) > math.MaxUint16 {
		return Key{}, ErrModelIDTooLong
	}

	buf := make([]byte, 0, 1+4+2+len(modelID)+4*len(tokens))
	buf = append(buf, version)
	buf = binary.LittleEndian.AppendUint32(buf, blockSize)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(modelID)))
	buf = append(buf, modelID...)
	for _, tok := range tokens {
		buf = binary.LittleEndian.AppendUint32(buf, tok)
	}

	sum := xxh3.Hash128(buf)
	b := sum.Bytes()

	var key Key
	copy(key[:], b[:])

	return key, nil
}

// ObjectKey derives the deterministic blob-store key for one block of a
// prefix, per spec.md §3: "{model_id}/b{block_size}/{pk_hex}/{index}.kv".
func ObjectKey(modelID string, blockSize uint32, pk Key, index uint32) string {
	return fmt.Sprintf("%s/b%d/%s/%d.kv", modelID, blockSize, pk.String(), index)
}

// ErrMalformedObjectKey is returned by ParseObjectKey when its argument does
// not have the "{model_id}/b{block_size}/{pk_hex}/{index}.kv" shape.
var ErrMalformedObjectKey = fmt.Errorf("malformed object key")

// ParseObjectKey recovers the prefix fingerprint and block index encoded in
// an object key produced by ObjectKey. This is the "readily derivable by
// parsing the object key" reverse mapping spec.md §9 calls for when
// implementing the optional strict hwm walk-back on eviction: the engine
// never needs to keep its own key-to-(pk,index) side table.
func ParseObjectKey(objectKey string) (pk Key, index uint32, err error) {
	lastSlash := strings.LastIndex(objectKey, "/")
	if lastSlash < 0 || !strings.HasSuffix(objectKey, ".kv") {
		return Key{}, 0, ErrMalformedObjectKey
	}

	prefixPart := objectKey[:lastSlash]
	indexPart := strings.TrimSuffix(objectKey[lastSlash+1:], ".kv")

	idx, err := strconv.ParseUint(indexPart, 10, 32)
	if err != nil {
		return Key{}, 0, fmt.Errorf("%w: bad index segment %q", ErrMalformedObjectKey, indexPart)
	}

	pkHexStart := strings.LastIndex(prefixPart, "/")
	if pkHexStart < 0 {
		return Key{}, 0, ErrMalformedObjectKey
	}
	pkHex := prefixPart[pkHexStart+1:]

	raw, err := hex.DecodeString(pkHex)
	if err != nil || len(raw) != len(Key{}) {
		return Key{}, 0, fmt.Errorf("%w: bad fingerprint segment %q", ErrMalformedObjectKey, pkHex)
	}

	copy(pk[:], raw)

	return pk, uint32(idx), nil
}
