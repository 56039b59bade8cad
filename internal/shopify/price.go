package shopify

import (
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// The store sells in euros to a Finnish audience, prices render as
// "1 234,56 €".
var printer = message.NewPrinter(language.Finnish)

// FormatPrice renders a decimal amount string for display. Unparseable
// amounts are returned as-is rather than breaking a page render.
func FormatPrice(amount, currencyCode string) string {
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return amount
	}

	formatted := printer.Sprintf("%v", number.Decimal(value,
		number.MinFractionDigits(2),
		number.MaxFractionDigits(2),
	))

	switch currencyCode {
	case "", "EUR":
		return formatted + " €"
	default:
		return formatted + " " + currencyCode
	}
}
