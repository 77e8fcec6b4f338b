package posts

import (
	"strings"

	"github.com/spf13/cast"
)

// PostRecord is a post as it arrived from the data endpoint. Values are
// coerced to their expected Go types but are otherwise untrusted.
type PostRecord struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	Link          string `json:"link"`
	Excerpt       string `json:"excerpt"`
	Date          string `json:"date"`
	FeaturedImage string `json:"featured_image"`
}

// DisplayRecord is a sanitized post, safe to place into markup text or an
// escaped attribute.
type DisplayRecord struct {
	ID       int
	Title    string
	Link     string
	Excerpt  string
	Date     string
	ImageURL string // empty when the record has no usable image
}

func (d DisplayRecord) HasImage() bool {
	return d.ImageURL != ""
}

// FromPayload converts a validated payload into records. Elements that are
// not objects are skipped; call Validate first.
func FromPayload(payload any) []PostRecord {
	list, ok := payload.([]any)
	if !ok {
		return nil
	}

	records := make([]PostRecord, 0, len(list))
	for _, element := range list {
		object, ok := element.(map[string]any)
		if !ok || object == nil {
			continue
		}
		records = append(records, recordFromObject(object))
	}
	return records
}

func recordFromObject(object map[string]any) PostRecord {
	id, err := cast.ToIntE(object["id"])
	if err != nil {
		id = 0
	}

	return PostRecord{
		ID:            id,
		Title:         stringField(object["title"]),
		Link:          stringField(object["link"]),
		Excerpt:       stringField(object["excerpt"]),
		Date:          stringField(object["date"]),
		FeaturedImage: stringField(object["featured_image"]),
	}
}

// stringField accepts scalars and WordPress style {"rendered": "..."} objects.
func stringField(value any) string {
	if object, ok := value.(map[string]any); ok {
		value = object["rendered"]
	}

	s, err := cast.ToStringE(value)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
