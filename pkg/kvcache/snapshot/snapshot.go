// Copyright 2025 The llm-d Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package snapshot produces a deterministic, canonical-CBOR dump of engine
// state for debugging and offline inspection. It never drives engine
// behavior: Dump is read-only and its output format is not an API other
// packages depend on.
package snapshot

import (
	"github.com/fxamacker/cbor/v2"
)

// Block describes one resident block in block-store MRU-to-LRU order.
type Block struct {
	ObjectKey string `cbor:"object_key"`
	SizeBytes uint64 `cbor:"size_bytes"`
}

// Prefix describes one tracked prefix and its high-water mark.
type Prefix struct {
	Fingerprint string `cbor:"fingerprint"`
	HWM         uint32 `cbor:"hwm"`
}

// Engine is a point-in-time view of an engine's internal state.
type Engine struct {
	ModelID       string   `cbor:"model_id"`
	BlockSize     uint32   `cbor:"block_size"`
	CapacityBytes uint64   `cbor:"capacity_bytes"`
	UsedBytes     uint64   `cbor:"used_bytes"`
	Prefixes      []Prefix `cbor:"prefixes"`
	Blocks        []Block  `cbor:"blocks"`
}

// Dump encodes an Engine snapshot as canonical CBOR: identical state always
// produces identical bytes, so snapshots can be diffed or hashed across runs.
func Dump(e Engine) ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}

	return encMode.Marshal(e)
}

// Load decodes a snapshot previously produced by Dump.
func Load(data []byte) (Engine, error) {
	var e Engine
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Engine{}, err
	}

	return e, nil
}
