// Package codec holds the on-disk formats of a scene: the manifest codecs
// and the chunked voxel payload.
//
// Manifests record the name of the codec that wrote them, and readers look
// the codec up with Lookup before decoding.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	gojson "github.com/goccy/go-json"
)

// ErrUnknownCodec is returned by Lookup for a name with no codec.
var ErrUnknownCodec = errors.New("codec: unknown manifest codec")

// Codec serializes manifests. Implementations are safe for concurrent use.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type stdJSON struct{}

func (stdJSON) Name() string                       { return "json" }
func (stdJSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (stdJSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type goJSON struct{}

func (goJSON) Name() string                       { return "go-json" }
func (goJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (goJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

var (
	// JSON uses encoding/json. Tools outside Go read its output.
	JSON Codec = stdJSON{}
	// GoJSON uses github.com/goccy/go-json. Its output is plain JSON too, so
	// either codec decodes manifests written by the other.
	GoJSON Codec = goJSON{}
	// Default writes new manifests.
	Default = GoJSON
)

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	switch name {
	case JSON.Name():
		return JSON, nil
	case GoJSON.Name():
		return GoJSON, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownCodec, name)
}

// Encode marshals v with c, or with Default when c is nil.
func Encode(c Codec, v any) ([]byte, error) {
	if c == nil {
		c = Default
	}
	data, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec %s: %w", c.Name(), err)
	}
	return data, nil
}
