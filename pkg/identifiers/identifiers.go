// Package identifiers pulls order and tracking numbers out of free text.
package identifiers

import (
	"regexp"
	"strings"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Kind tags which pattern family produced a match.
type Kind string

const (
	KindNone Kind = ""

	// order number families, highest priority first
	KindVendorOrder  Kind = "vendor_order"
	KindLabeledOrder Kind = "labeled_order"
	KindNumericOrder Kind = "numeric_order"

	// tracking number families, highest priority first
	KindPrefixedTracking Kind = "prefixed_tracking"
	KindLongTracking     Kind = "long_numeric_tracking"
	KindTwelveTracking   Kind = "twelve_digit_tracking"
)

type pattern struct {
	kind Kind
	re   *regexp.Regexp
	// group is the submatch holding the identifier; 0 for the whole match.
	group int
	// needsDigit rejects candidates with no digit at all.
	needsDigit bool
}

var orderPatterns = []pattern{
	{kind: KindVendorOrder, re: regexp.MustCompile(`\b\d{3}-\d{7}-\d{7}\b`)},
	{
		kind:       KindLabeledOrder,
		re:         regexp.MustCompile(`(?i)\b(?:order|confirmation)(?:\s+(?:order|confirmation))?\s*(?:#|no\.?|number)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{3,})`),
		group:      1,
		needsDigit: true,
	},
	{kind: KindNumericOrder, re: regexp.MustCompile(`\b\d{8,}\b`)},
}

var trackingPatterns = []pattern{
	{kind: KindPrefixedTracking, re: regexp.MustCompile(`\b1Z[0-9A-Z]{16}\b`)},
	{kind: KindLongTracking, re: regexp.MustCompile(`\b\d{20,34}\b`)},
	{kind: KindTwelveTracking, re: regexp.MustCompile(`\b\d{12}\b`)},
}

// MatchOrderNumber returns the first order number found in text and the
// family that matched. Families are tried in priority order.
func MatchOrderNumber(text string) (string, Kind) {
	return match(text, orderPatterns)
}

// MatchTrackingNumber returns the first tracking number found in text and
// the family that matched.
func MatchTrackingNumber(text string) (string, Kind) {
	return match(text, trackingPatterns)
}

// ExtractOrderNumber returns the first order number in text, or "".
func ExtractOrderNumber(text string) string {
	v, _ := MatchOrderNumber(text)
	return v
}

// ExtractTrackingNumber returns the first tracking number in text, or "".
func ExtractTrackingNumber(text string) string {
	v, _ := MatchTrackingNumber(text)
	return v
}

// Normalize canonicalizes an identifier for comparison and index keys.
func Normalize(id string) string {
	return normalizers.Apply(id, "identifier")
}

// Effective returns the normalized explicit value when present, else the
// normalized value extracted from fallback text.
func Effective(explicit *string, fallback *string, extract func(string) string) string {
	if explicit != nil {
		if v := Normalize(*explicit); v != "" {
			return v
		}
	}
	if fallback != nil && *fallback != "" {
		return Normalize(extract(*fallback))
	}
	return ""
}

func match(text string, patterns []pattern) (string, Kind) {
	if strings.TrimSpace(text) == "" {
		return "", KindNone
	}
	for _, p := range patterns {
		for _, sub := range p.re.FindAllStringSubmatch(text, -1) {
			candidate := sub[p.group]
			if p.needsDigit && !strings.ContainsAny(candidate, "0123456789") {
				continue
			}
			return candidate, p.kind
		}
	}
	return "", KindNone
}
