package boxedit

import (
	"bytes"
	"encoding/json"
)

// OptString is a string that may be absent.
// The zero value is absent, which is distinct from present-and-empty.
type OptString struct {
	Value string
	Valid bool
}

// Some returns a present OptString
func Some(s string) OptString {
	return OptString{Value: s, Valid: true}
}

// None is the absent OptString
var None = OptString{}

// Or returns the value, or def if absent
func (o OptString) Or(def string) string {
	if !o.Valid {
		return def
	}
	return o.Value
}

func (o OptString) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *OptString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = None
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*o = Some(s)
	return nil
}
