package posts

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var requiredKeys = []string{"id", "title", "link"}

var ErrInvalidPayload = errors.New("payload is not a list of post records")

// Validate reports whether payload is a list of objects that each carry the
// id, title and link keys. Only key presence is checked. An empty list is
// valid.
func Validate(payload any) bool {
	list, ok := payload.([]any)
	if !ok {
		return false
	}

	for _, element := range list {
		object, ok := element.(map[string]any)
		if !ok || object == nil {
			return false
		}
		for _, key := range requiredKeys {
			if _, present := object[key]; !present {
				return false
			}
		}
	}
	return true
}

// Decode parses and validates a response body.
func Decode(body []byte) ([]PostRecord, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !Validate(payload) {
		return nil, ErrInvalidPayload
	}
	return FromPayload(payload), nil
}
