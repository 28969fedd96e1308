package intelligence

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/sitecore/internal/domain"
)

// FallbackTone marks insights that could not be produced by the model.
const FallbackTone = "Unable to analyze"

// InsightsKind tags an InsightsResult.
type InsightsKind int

// Insights result kinds.
const (
	InsightsParsed InsightsKind = iota
	InsightsFallback
)

func (k InsightsKind) String() string {
	if k == InsightsFallback {
		return "fallback"
	}
	return "parsed"
}

// InsightsResult is either Parsed(insights) or Fallback(insights, reason).
// Insights is always structurally valid.
type InsightsResult struct {
	Kind     InsightsKind
	Insights domain.Insights
	Reason   string
}

// Parsed wraps insights decoded from model output.
func Parsed(in domain.Insights) InsightsResult {
	return InsightsResult{Kind: InsightsParsed, Insights: normalize(in)}
}

// Fallback builds the well-formed placeholder used when model output is unusable.
func Fallback(reason string) InsightsResult {
	in := normalize(domain.Insights{Tone: FallbackTone})
	in.Fallback = true
	in.FallbackReason = reason
	return InsightsResult{Kind: InsightsFallback, Insights: in, Reason: reason}
}

var fencePattern = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*\\s*\\n?(.*?)\\s*```$")

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// ParseInsights decodes model output. It never fails: unusable output yields a Fallback.
func ParseInsights(raw string) InsightsResult {
	body := StripCodeFence(raw)
	if body == "" {
		return Fallback("empty model response")
	}
	var in domain.Insights
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&in); err != nil {
		return Fallback(fmt.Sprintf("model response is not valid insights JSON: %v", err))
	}
	if dec.More() {
		return Fallback("model response has trailing content after JSON")
	}
	if empty(in) {
		return Fallback("model response missing required fields")
	}
	in.Fallback = false
	in.FallbackReason = ""
	return Parsed(in)
}

// empty reports decoded output that carries none of the insight fields,
// as produced by "{}" or "null".
func empty(in domain.Insights) bool {
	return strings.TrimSpace(in.Tone) == "" &&
		len(in.Keywords) == 0 &&
		len(in.SellingPoints) == 0 &&
		len(in.Gaps) == 0 &&
		len(in.GeographicFocus) == 0
}

func normalize(in domain.Insights) domain.Insights {
	if in.Keywords == nil {
		in.Keywords = []string{}
	}
	if in.SellingPoints == nil {
		in.SellingPoints = []string{}
	}
	if in.Gaps == nil {
		in.Gaps = []string{}
	}
	if in.GeographicFocus == nil {
		in.GeographicFocus = []string{}
	}
	return in
}

// BuildPrompt embeds structured data and combined markdown in a single analysis request.
func BuildPrompt(siteURL string, data domain.StructuredData, markdown string) string {
	structured, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		structured = []byte("{}")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are analyzing the website of a competitor: %s\n\n", siteURL)
	b.WriteString("Structured data extracted from the site:\n")
	b.Write(structured)
	b.WriteString("\n\nPage content:\n")
	b.WriteString(markdown)
	b.WriteString("\n\nRespond with ONLY a JSON object, no prose, with exactly these fields:\n")
	b.WriteString(`{"keywords": [string], "tone": string, "selling_points": [string], "gaps": [string], "geographic_focus": [string]}`)
	b.WriteString("\n- keywords: the main SEO keywords the site targets\n")
	b.WriteString("- tone: a short description of the brand voice\n")
	b.WriteString("- selling_points: what the competitor emphasizes to win customers\n")
	b.WriteString("- gaps: topics or services the site does not cover well\n")
	b.WriteString("- geographic_focus: the areas the competitor targets\n")
	return b.String()
}
