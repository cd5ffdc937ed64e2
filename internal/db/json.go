package db

import "encoding/json"

// marshalHWConfig serializes a HWConfig for storage in a jsonb column.
func marshalHWConfig(h HWConfig) ([]byte, error) {
	return json.Marshal(h)
}

// unmarshalHWConfig deserializes a HWConfig from a jsonb column.
func unmarshalHWConfig(raw []byte) (HWConfig, error) {
	var h HWConfig
	if len(raw) == 0 {
		return h, nil
	}
	err := json.Unmarshal(raw, &h)
	return h, err
}
