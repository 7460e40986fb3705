package cache

import "encoding/json"

// Codec converts computed results to and from the bytes kept in storage.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Round trip: Unmarshal(Marshal(v)) must yield a value equal to v.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes results as JSON. It is the default codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var _ Codec = JSONCodec{}
