package docstore

import (
	"encoding/json"
	"fmt"
)

func marshalSource(source map[string]any) ([]byte, error) {
	raw, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("marshaling source: %w", err)
	}
	return raw, nil
}

func decodeSource(raw []byte) (map[string]any, error) {
	var source map[string]any
	if err := json.Unmarshal(raw, &source); err != nil {
		return nil, fmt.Errorf("decoding source: %w", err)
	}
	return source, nil
}

// DecodeInto unmarshals a document source into a typed struct.
func DecodeInto(source map[string]any, out any) error {
	raw, err := marshalSource(source)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}
