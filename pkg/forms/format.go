package forms

import (
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Placeholder is rendered for values that cannot be shown.
const Placeholder = "-"

var danish = message.NewPrinter(language.Danish)

// FormatDanishPhone normalizes an 8-digit or 0045-prefixed number to +45XXXXXXXX.
// Anything else is returned unchanged.
func FormatDanishPhone(s string) string {
	if s == "" {
		return ""
	}
	digits := nonDigit.ReplaceAllString(s, "")
	if len(digits) == 8 {
		return "+45" + digits
	}
	if strings.HasPrefix(digits, "0045") {
		return "+45" + digits[4:]
	}
	return s
}

// FormatCurrency renders n rounded to whole units with da-DK digit grouping.
func FormatCurrency(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Placeholder
	}
	return danish.Sprint(number.Decimal(math.Round(n), number.MaxFractionDigits(0)))
}
