package normalize

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultCurrencyMarker is the prefix used by the Brazilian storefront.
const DefaultCurrencyMarker = "R$"

// BrazilianDateLayout renders timestamps as dd/mm/yyyy hh:mm:ss.
const BrazilianDateLayout = "02/01/2006 15:04:05"

// \s in RE2 is ASCII only; listing pages separate marker and amount with NBSP.
const amountPattern = `[\s\p{Zs}]*([\d.,]+)`

// ErrInvalidURL is returned for URLs that carry no product id.
var ErrInvalidURL = errors.New("invalid Amazon URL")

var asinPattern = regexp.MustCompile(`(?i)/(?:dp|gp/product)/([A-Z0-9]{10})`)

var defaultPriceRe = regexp.MustCompile(regexp.QuoteMeta(DefaultCurrencyMarker) + amountPattern)

// ParsePrice extracts the first "R$ 1.234,56" style amount from text.
// The second return value is false when no amount is present or it cannot be
// parsed; callers must treat that as a missing field, not as a zero price.
func ParsePrice(text string) (float64, bool) {
	return parseWith(defaultPriceRe, text)
}

// ParsePriceMarker is ParsePrice for another currency marker using the same
// '.' thousands / ',' decimal convention.
func ParsePriceMarker(text, marker string) (float64, bool) {
	if marker == "" || marker == DefaultCurrencyMarker {
		return ParsePrice(text)
	}
	re, err := regexp.Compile(regexp.QuoteMeta(marker) + amountPattern)
	if err != nil {
		return 0, false
	}
	return parseWith(re, text)
}

func parseWith(re *regexp.Regexp, text string) (float64, bool) {
	if text == "" {
		return 0, false
	}

	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}

	amount := strings.ReplaceAll(m[1], ".", "")
	amount = strings.ReplaceAll(amount, ",", ".")
	if amount == "" {
		return 0, false
	}

	value, err := strconv.ParseFloat(amount, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// CleanName collapses runs of whitespace and upper-cases the first letter.
func CleanName(name string) string {
	cleaned := strings.Join(strings.Fields(name), " ")
	if cleaned == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(cleaned)
	return string(unicode.ToUpper(r)) + cleaned[size:]
}

// IsAffiliateLink reports whether url points at Amazon or its short-link domain.
func IsAffiliateLink(url string) bool {
	lower := strings.ToLower(url)
	return url != "" && (strings.Contains(lower, "amzn.to") || strings.Contains(lower, "amazon"))
}

// ExtractASIN returns the product id embedded in a /dp/ or /gp/product/ URL.
func ExtractASIN(productURL string) (string, error) {
	matches := asinPattern.FindStringSubmatch(productURL)
	if len(matches) < 2 {
		return "", ErrInvalidURL
	}
	return strings.ToUpper(matches[1]), nil
}

// IsShortLink reports whether url is an amzn.to short link, i.e. already an
// affiliate redirect rather than a catalog URL.
func IsShortLink(url string) bool {
	return strings.Contains(strings.ToLower(url), "amzn.to")
}

// FormatBrazilianDate formats t, or now when t is zero.
func FormatBrazilianDate(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format(BrazilianDateLayout)
}
