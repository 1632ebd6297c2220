package razorpay

import (
	"bytes"
	"encoding/json"
	"strings"
)

// flexString decodes a JSON string, number, bool or null into a string.
// The API is loose about types on some fields.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}
