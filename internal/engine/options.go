package engine

import (
	"bytes"
	"encoding/json"
)

// Option is one selectable choice: the key is what gets stored as the
// answer value, the value is the label shown to the patient.
type Option struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseSelectOptions normalizes the heterogeneous options payloads the
// authoring tool produces into an ordered key/label list.
//
// Accepted shapes: a bare list (each element is both key and label),
// {"values": [...]}, {"options": [...]}, and a plain string-keyed map
// whose entry order is preserved. Anything else yields an empty list;
// malformed input is never an error.
func ParseSelectOptions(raw json.RawMessage) []Option {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	switch raw[0] {
	case '[':
		return listOptions(raw)
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil
		}
		if v, ok := fields["values"]; ok && isArray(v) {
			return listOptions(v)
		}
		if v, ok := fields["options"]; ok && isArray(v) {
			return listOptions(v)
		}
		return mapOptions(raw)
	}
	return nil
}

func listOptions(raw json.RawMessage) []Option {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	opts := make([]Option, 0, len(items))
	for _, item := range items {
		s := stringify(item)
		opts = append(opts, Option{Key: s, Value: s})
	}
	return opts
}

// mapOptions walks the object token by token because encoding/json maps
// lose key order, and option order is display order.
func mapOptions(raw json.RawMessage) []Option {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil { // opening brace
		return nil
	}

	var opts []Option
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return opts
		}
		key, ok := tok.(string)
		if !ok {
			return opts
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return opts
		}
		// The wrapper field names are never options themselves.
		if key == "values" || key == "options" {
			continue
		}
		opts = append(opts, Option{Key: key, Value: stringifyValue(value)})
	}
	return opts
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
