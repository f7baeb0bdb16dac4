package engine

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountExtractor pulls a transferred amount out of one bank's notification
// text. Extractors return ok=false instead of guessing: an unconfident
// extraction leaves the notification for manual resolution.
type AmountExtractor interface {
	Bank() string
	Extract(text string) (decimal.Decimal, bool)
}

type regexExtractor struct {
	bank string
	re   *regexp.Regexp
}

func (e *regexExtractor) Bank() string { return e.bank }

func (e *regexExtractor) Extract(text string) (decimal.Decimal, bool) {
	m := e.re.FindStringSubmatch(text)
	if len(m) < 2 {
		return decimal.Zero, false
	}
	return parseAmount(m[1])
}

// parseAmount normalizes a matched amount string: thousands separators
// (spaces, NBSP, apostrophes) are stripped, a decimal comma becomes a dot.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.NewReplacer(" ", "", " ", "", "'", "", ",", ".").Replace(s)
	// "1.234.56" after comma replacement means the first dot was a thousands
	// separator; keep only the last one.
	if strings.Count(s, ".") > 1 {
		last := strings.LastIndex(s, ".")
		s = strings.ReplaceAll(s[:last], ".", "") + s[last:]
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

const amountPattern = `([0-9][0-9 \x{00a0}']*(?:[.,][0-9]{1,2})?)`

// DefaultExtractors covers the banks whose notification formats the platform
// sees in production, most specific first, with a generic currency-suffixed
// pattern as the last resort.
func DefaultExtractors() []AmountExtractor {
	return []AmountExtractor{
		&regexExtractor{
			bank: "sber",
			re:   regexp.MustCompile(`(?i)(?:перевод|зачисление)\s+` + amountPattern + `\s*(?:руб|р\b|₽)`),
		},
		&regexExtractor{
			bank: "tbank",
			re:   regexp.MustCompile(`(?i)пополнение(?:[^0-9]{0,40})на\s+(?:сумму\s+)?` + amountPattern),
		},
		&regexExtractor{
			bank: "alfa",
			re:   regexp.MustCompile(`(?i)поступление\s+` + amountPattern + `\s*(?:RUR|RUB|руб)`),
		},
		&regexExtractor{
			bank: "generic",
			re:   regexp.MustCompile(`(?i)(?:\+\s*)?` + amountPattern + `\s*(?:RUB|RUR|руб\.?|р\.|₽)`),
		},
	}
}

// ExtractAmount runs the extractor chain and returns the first confident
// amount along with the bank pattern that produced it.
func ExtractAmount(extractors []AmountExtractor, text string) (decimal.Decimal, string, bool) {
	for _, e := range extractors {
		if amount, ok := e.Extract(text); ok {
			return amount, e.Bank(), true
		}
	}
	return decimal.Zero, "", false
}
