package testutil

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteJSONL encodes each record as one line of JSON.
func WriteJSONL(w io.Writer, records []map[string]any) error {
	enc := jsonCodec.NewEncoder(w)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return nil
}

// JSONLBytes is WriteJSONL into a byte slice.
func JSONLBytes(records []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJSONL(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
