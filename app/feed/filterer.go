package feed

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Fields a filter can match against. These are the post fields the widget
// serves, not raw feed elements.
const (
	FieldTitle      = "title"
	FieldExcerpt    = "excerpt"
	FieldLink       = "link"
	FieldCategories = "categories"
)

var filterFields = map[string]bool{
	FieldTitle:      true,
	FieldExcerpt:    true,
	FieldLink:       true,
	FieldCategories: true,
}

// Rules decide whether an imported post is published. A post that breaks a
// rule is still stored, as a draft, with the reason attached.
type Rules struct {
	RequireImage bool
	Filters      []ConfigFilter
}

func RulesFor(feedConfig *Config) Rules {
	return Rules{
		RequireImage: feedConfig.Settings.RequireImage,
		Filters:      feedConfig.Filters,
	}
}

func (r Rules) empty() bool {
	return !r.RequireImage && len(r.Filters) == 0
}

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run returns a copy of items with IsFiltered and FilterReason set.
func (f *Filterer) Run(items []Item, rules Rules) []Item {
	result := make([]Item, len(items))
	copy(result, items)
	if rules.empty() {
		return result
	}

	fold := cases.Fold()
	for i := range result {
		reason := f.draftReason(fold, result[i], rules)
		result[i].IsFiltered = reason != ""
		result[i].FilterReason = reason
	}
	return result
}

func (f *Filterer) draftReason(fold cases.Caser, item Item, rules Rules) string {
	if rules.RequireImage && item.ImageURL == "" {
		return "No featured image"
	}

	for _, filter := range rules.Filters {
		values := f.fieldValues(item, filter.Field)

		if term, ok := firstMatch(fold, values, filter.Excludes); ok {
			return fmt.Sprintf("%s contains %q", filter.Field, term)
		}
		if len(filter.Includes) > 0 {
			if _, ok := firstMatch(fold, values, filter.Includes); !ok {
				return fmt.Sprintf("%s contains none of %q", filter.Field, filter.Includes)
			}
		}
	}

	return ""
}

// firstMatch returns the first term found in any of values, ignoring case.
func firstMatch(fold cases.Caser, values, terms []string) (string, bool) {
	for _, term := range terms {
		needle := fold.String(strings.TrimSpace(term))
		if needle == "" {
			continue
		}
		for _, value := range values {
			if strings.Contains(fold.String(value), needle) {
				return term, true
			}
		}
	}
	return "", false
}

// fieldValues lists what a filter on field looks at. Categories are matched
// one by one so a term never spans two of them.
func (f *Filterer) fieldValues(item Item, field string) []string {
	switch field {
	case FieldTitle:
		return []string{item.Title}
	case FieldExcerpt:
		return []string{item.Excerpt}
	case FieldLink:
		return []string{item.Link}
	case FieldCategories:
		return item.Categories
	}
	return nil
}
