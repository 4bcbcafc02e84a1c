package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// checkName rejects names that would break the key schema.
func checkName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("empty %s name", kind)
	}
	if strings.ContainsAny(name, ":\x00") {
		return fmt.Errorf("%s name %q must not contain ':'", kind, name)
	}
	return nil
}
