package protocol

import "encoding/json"

// IDString renders a raw JSON-RPC id as the string used for correlation.
// String ids keep their value; numbers and other forms keep their JSON text.
func IDString(raw *json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(*raw, &s); err == nil {
		return s
	}
	return string(*raw)
}
