package core

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MaskToken replaces both balances when amounts are hidden.
const MaskToken = "••••"

// NumberFormatter renders integers with locale-aware digit grouping.
type NumberFormatter struct {
	tag language.Tag
}

// NewNumberFormatter parses locale as a BCP 47 tag, falling back to English.
func NewNumberFormatter(locale string) NumberFormatter {
	tag, err := language.Parse(locale)
	if err != nil || locale == "" {
		tag = language.English
	}
	return NumberFormatter{tag: tag}
}

// Format renders n, e.g. 2568 -> "2,568" for English.
func (f NumberFormatter) Format(n int64) string {
	return message.NewPrinter(f.tag).Sprintf("%d", n)
}

// Locale returns the tag in use.
func (f NumberFormatter) Locale() string {
	return f.tag.String()
}

// DisplayBalances formats both balances, or the mask token for both when masked.
func (f NumberFormatter) DisplayBalances(b Balances, masked bool) (airtime, commission string) {
	if masked {
		return MaskToken, MaskToken
	}
	return f.Format(b.Airtime), f.Format(b.Commission)
}

// Greeting picks the salutation for a local hour of day.
func Greeting(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "Good morning ☀️"
	case hour >= 12 && hour < 17:
		return "Good afternoon ☀️"
	default:
		return "Good evening 🌙"
	}
}
