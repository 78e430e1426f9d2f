// Copyright 2025 Nguyen Nhat Nguyen
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

// Package serde holds the payload codecs shared by history, task queues and
// the workflow/activity argument plumbing.
package serde

import (
	"fmt"
	"strings"
)

// BinarySerde is the codec contract. It matches the serializer expected by the
// event-sourced repository, so one value serves both history and task payloads.
type BinarySerde interface {
	SerializeBinary(value any) ([]byte, error)
	DeserializeBinary(data []byte, valuePtr any) error
}

const (
	MsgpackName = "msgpack"
	JSONName    = "json"
)

// Default returns the codec used when none is configured.
func Default() BinarySerde { return &MsgpackSerde{} }

// ByName resolves a codec from configuration.
func ByName(name string) (BinarySerde, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", MsgpackName:
		return &MsgpackSerde{}, nil
	case JSONName:
		return &JsonSerde{}, nil
	default:
		return nil, fmt.Errorf("unknown serde %q", name)
	}
}
