package intelligence

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/sitecore/internal/domain"
)

// TruncatedMarker is appended when CombineMarkdown drops content.
const TruncatedMarker = "\n[truncated]"

// CombineMarkdown joins page markdown under per-page headers. Output length
// in runes never exceeds maxChars plus the marker.
func CombineMarkdown(pages []domain.Page, maxChars int) string {
	var b strings.Builder
	used := 0
	for _, page := range pages {
		if strings.TrimSpace(page.Markdown) == "" {
			continue
		}
		section := pageSection(page)
		n := utf8.RuneCountInString(section)
		if used+n > maxChars {
			if remaining := maxChars - used; remaining > 0 {
				b.WriteString(truncateRunes(section, remaining))
			}
			b.WriteString(TruncatedMarker)
			break
		}
		b.WriteString(section)
		used += n
	}
	return b.String()
}

func pageSection(page domain.Page) string {
	location := page.Location()
	title := strings.TrimSpace(page.Metadata.Title)
	if title == "" {
		title = location
	}
	return fmt.Sprintf("## Page: %s\nURL: %s\n\n%s\n\n---\n\n", title, location, strings.TrimSpace(page.Markdown))
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// CombineStructuredData unions list fields across pages without duplicates,
// keeping first-seen order, and shallow-merges contact_info with later pages
// winning on key conflicts. Pages with missing or malformed JSON are skipped.
func CombineStructuredData(pages []domain.Page) domain.StructuredData {
	services := newOrderedSet()
	locations := newOrderedSet()
	usps := newOrderedSet()
	contact := map[string]any{}

	for _, page := range pages {
		if len(page.JSON) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(page.JSON, &raw); err != nil {
			continue
		}
		services.addAll(raw["services"])
		locations.addAll(raw["locations_served"])
		usps.addAll(raw["unique_selling_points"])
		if info, ok := raw["contact_info"].(map[string]any); ok {
			for k, v := range info {
				if v == nil {
					continue
				}
				contact[k] = v
			}
		}
	}

	return domain.StructuredData{
		Services:            services.values,
		LocationsServed:     locations.values,
		UniqueSellingPoints: usps.values,
		ContactInfo:         contact,
	}
}

type orderedSet struct {
	seen   map[string]struct{}
	values []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]struct{}{}, values: []string{}}
}

// addAll accepts a list of strings or a single string.
func (s *orderedSet) addAll(v any) {
	switch items := v.(type) {
	case []any:
		for _, item := range items {
			if str, ok := item.(string); ok {
				s.add(str)
			}
		}
	case string:
		s.add(items)
	}
}

func (s *orderedSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.values = append(s.values, v)
}
