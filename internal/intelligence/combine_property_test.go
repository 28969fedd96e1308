package intelligence

import (
	"encoding/json"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/JakeFAU/sitecore/internal/domain"
)

func TestProperty_CombineMarkdownIsBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	markerLen := utf8.RuneCountInString(TruncatedMarker)

	properties.Property("output_never_exceeds_max_plus_marker", prop.ForAll(
		func(bodies []string, maxChars int) bool {
			pages := make([]domain.Page, 0, len(bodies))
			for _, body := range bodies {
				pages = append(pages, domain.Page{Markdown: body, Metadata: domain.PageMetadata{URL: "https://x.test"}})
			}
			out := CombineMarkdown(pages, maxChars)
			return utf8.ValidString(out) && utf8.RuneCountInString(out) <= maxChars+markerLen
		},
		gen.SliceOf(gen.OneGenOf(gen.AlphaString(), gen.UnicodeString(unicode.Han))),
		gen.IntRange(0, 2000),
	))

	properties.TestingRun(t)
}

func TestProperty_CombineStructuredDataIsASet(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	names := []string{"seawalls", "docks", "boat lifts", "pilings", "dredging"}
	values := gen.IntRange(0, len(names)-1).Map(func(i int) string { return names[i] })

	properties.Property("services_are_unique_and_complete", prop.ForAll(
		func(first, second []string) bool {
			pages := []domain.Page{pageWithServices(first), pageWithServices(second)}
			got := CombineStructuredData(pages).Services

			seen := map[string]bool{}
			for _, s := range got {
				if seen[s] {
					return false
				}
				seen[s] = true
			}
			for _, s := range append(append([]string{}, first...), second...) {
				if !seen[s] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(values),
		gen.SliceOf(values),
	))

	properties.TestingRun(t)
}

func pageWithServices(services []string) domain.Page {
	if services == nil {
		services = []string{}
	}
	raw, _ := json.Marshal(map[string]any{"services": services})
	return domain.Page{JSON: raw}
}
