package money

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Cents represents money in the smallest unit (no floats).
type Cents int64

func (c Cents) String() string {
	return fmt.Sprintf("%d", int64(c))
}

var printer = message.NewPrinter(language.English)

// Display renders c as grouped major units with two decimals, e.g. "₹1,299.00".
func (c Cents) Display(symbol string) string {
	v := int64(c)
	sign := ""
	u := uint64(v)
	if v < 0 {
		sign = "-"
		// -v overflows at math.MinInt64
		u = uint64(-(v + 1)) + 1
	}
	return fmt.Sprintf("%s%s%s.%02d", sign, symbol, printer.Sprintf("%d", u/100), u%100)
}

// FromMajor converts a major-unit amount (rupees, dollars) coming off a JSON API.
func FromMajor(major float64) Cents {
	return Cents(math.Round(major * 100))
}
