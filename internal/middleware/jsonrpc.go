package middleware

import "encoding/json"

// envelope peeks at the fields of a JSON-RPC 2.0 message that the
// middleware stack needs without decoding the full message: the
// correlation id, the method name (requests only), and whether a
// response carries an error.
type envelope struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func parseEnvelope(raw []byte) (envelope, bool) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return envelope{}, false
	}
	return e, true
}

// idKey returns a comparable key for an envelope's id, or "" and false
// when the message carries no id (a notification).
func idKey(e envelope) (string, bool) {
	if len(e.ID) == 0 || string(e.ID) == "null" {
		return "", false
	}
	return string(e.ID), true
}

func (e envelope) isRequest() bool {
	return e.Method != ""
}

func (e envelope) isError() bool {
	return len(e.Error) > 0 && string(e.Error) != "null"
}
