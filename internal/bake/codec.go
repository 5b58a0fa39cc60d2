package bake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hjson/hjson-go/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Format names a bake file encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatHJSON   Format = "hjson"
	FormatMsgpack Format = "msgpack"
)

// FormatForPath picks an encoding from the file extension. Unknown
// extensions fall back to HJSON, which also accepts plain JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".msgpack", ".mpk", ".bin":
		return FormatMsgpack
	default:
		return FormatHJSON
	}
}

// Decode parses a descriptor and validates it.
func Decode(data []byte, format Format) (Descriptor, error) {
	var desc Descriptor
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &desc)
	case FormatHJSON:
		err = hjson.Unmarshal(data, &desc)
	case FormatMsgpack:
		err = msgpack.Unmarshal(data, &desc)
	default:
		return Descriptor{}, fmt.Errorf("unknown bake format %q", format)
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("decode %s bake: %w", format, err)
	}
	if err := desc.Validate(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

// Encode serialises a descriptor. HJSON output is written as JSON.
func Encode(desc Descriptor, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, FormatHJSON:
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(desc); err != nil {
			return nil, fmt.Errorf("encode json bake: %w", err)
		}
		return buf.Bytes(), nil
	case FormatMsgpack:
		data, err := msgpack.Marshal(&desc)
		if err != nil {
			return nil, fmt.Errorf("encode msgpack bake: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown bake format %q", format)
	}
}

// LoadFile reads and decodes a bake file.
func LoadFile(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read bake file: %w", err)
	}
	return Decode(data, FormatForPath(path))
}

// SaveFile encodes a descriptor into path using the extension's format.
func SaveFile(path string, desc Descriptor) error {
	data, err := Encode(desc, FormatForPath(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write bake file: %w", err)
	}
	return nil
}
