package itera

import (
	"encoding/json"
	"strconv"
	"strings"
)

// lookup returns the first present key, matched case-insensitively, rendered
// as a string. Numbers keep their JSON form so 42 stays "42".
func lookup(obj map[string]json.RawMessage, keys ...string) string {
	for _, want := range keys {
		for k, raw := range obj {
			if !strings.EqualFold(k, want) {
				continue
			}
			if s, ok := scalar(raw); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func scalar(raw json.RawMessage) (string, bool) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func decodeObject(body []byte) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
