package posts

import (
	"html"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxTitleLength   = 200
	MaxExcerptLength = 300

	DefaultTitle = "Untitled Post"
	DefaultLink  = "#"
	DefaultDate  = "No date"

	dateLayout = "January 2, 2006"

	// Raw input is cut to this many times the field limit before decoding.
	rawInputFactor = 4
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".svg":  true,
}

var angleBrackets = strings.NewReplacer("<", "", ">", "")

type Sanitizer struct{}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

func (s *Sanitizer) Run(records []PostRecord) []DisplayRecord {
	display := make([]DisplayRecord, 0, len(records))
	for _, record := range records {
		display = append(display, Sanitize(record))
	}
	return display
}

func Sanitize(record PostRecord) DisplayRecord {
	id := record.ID
	if id < 0 {
		id = 0
	}

	return DisplayRecord{
		ID:       id,
		Title:    SanitizeTitle(record.Title),
		Link:     SanitizeLink(record.Link),
		Excerpt:  SanitizeExcerpt(record.Excerpt),
		Date:     SanitizeDate(record.Date),
		ImageURL: SanitizeImage(record.FeaturedImage),
	}
}

func SanitizeTitle(raw string) string {
	title := truncate(PlainText(truncate(raw, rawInputFactor*MaxTitleLength)), MaxTitleLength)
	if title == "" {
		return DefaultTitle
	}
	return title
}

func SanitizeExcerpt(raw string) string {
	return truncate(PlainText(truncate(raw, rawInputFactor*MaxExcerptLength)), MaxExcerptLength)
}

// SanitizeLink keeps http(s) and relative links. Anything else, including
// javascript: and data: URLs, becomes DefaultLink. Quotes pass through; the
// renderer escapes attribute values.
func SanitizeLink(raw string) string {
	link := strings.TrimSpace(raw)
	if link == "" || strings.ContainsAny(link, "<> \t\r\n") {
		return DefaultLink
	}

	u, err := url.Parse(link)
	if err != nil {
		return DefaultLink
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
		return link
	default:
		return DefaultLink
	}
}

// SanitizeImage returns raw only for absolute http(s) URLs whose path has an
// image extension. The query string is ignored.
func SanitizeImage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, "<>\"'`\\() \t\r\n") {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}

	if !imageExtensions[strings.ToLower(path.Ext(u.Path))] {
		return ""
	}
	return raw
}

// SanitizeDate turns any parseable date into a "January 2, 2006" label and
// leaves other text as plain text.
func SanitizeDate(raw string) string {
	text := PlainText(raw)
	if text == "" || text == DefaultDate {
		return DefaultDate
	}

	if t, err := dateparse.ParseAny(text); err == nil {
		return t.Format(dateLayout)
	}
	return truncate(text, MaxTitleLength)
}

// EscapeForMarkup escapes & < > " ' so text is safe in element content and
// in quoted attribute values.
func EscapeForMarkup(text string) string {
	return html.EscapeString(text)
}

// PlainText decodes entities, strips tags and collapses whitespace. Decoding
// repeats until the text stops changing so doubly encoded markup such as
// "&lt;b&gt;" is stripped as well. Leftover angle brackets are dropped.
// Every pass that changes the text shortens it, so the loop ends.
func PlainText(raw string) string {
	text := raw
	for {
		next := plainTextPass(text)
		if next == text {
			next = collapse(angleBrackets.Replace(text))
			if next == text {
				return text
			}
		}
		text = next
	}
}

func plainTextPass(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	text := s
	if strings.ContainsAny(s, "<>&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			text = doc.Text()
		}
	}
	return collapse(text)
}

func collapse(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}
