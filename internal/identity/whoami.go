package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// identifier is a JSON string or number read as a string.
type identifier string

// UnmarshalJSON accepts strings, numbers and null.
func (id *identifier) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*id = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = identifier(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("identifier must be a string or number: %w", err)
		}
		*id = identifier(n.String())
	}
	return nil
}

// whoamiIdentity carries the two field names identity services have used
// for the subject. userId is preferred when both are set.
type whoamiIdentity struct {
	UserID identifier `json:"userId"`
	ID     identifier `json:"id"`
}

func (w whoamiIdentity) subject() string {
	if w.UserID != "" {
		return string(w.UserID)
	}
	return string(w.ID)
}

// whoamiResponse is the identity service reply. The pair may sit at the top
// level or inside a user envelope; the envelope wins when it names a subject.
type whoamiResponse struct {
	whoamiIdentity
	User *whoamiIdentity `json:"user"`
}

func (w whoamiResponse) subject() string {
	if w.User != nil {
		if s := w.User.subject(); s != "" {
			return s
		}
	}
	return w.whoamiIdentity.subject()
}

// decodeWhoami extracts the subject from a whoami body. An empty subject
// with a nil error means the body named nobody.
func decodeWhoami(body []byte) (string, error) {
	var resp whoamiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode whoami response: %w", err)
	}
	return resp.subject(), nil
}
