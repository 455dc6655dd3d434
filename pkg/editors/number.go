package editors

import (
	"strconv"
	"strings"
)

// DigitsOnly removes every character that is not an ASCII digit.
func DigitsOnly(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatThousands renders a digit string with the dispatcher's locale
// grouping ("1234567" -> "1,234,567" in English). Non-digit input is
// stripped first; an empty result stays empty.
func (d *Dispatcher) FormatThousands(digits string) string {
	digits = DigitsOnly(digits)
	if digits == "" {
		return ""
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return groupDigits(strings.TrimLeft(digits, "0"))
	}
	return d.printer.Sprintf("%d", n)
}

// FormatThousands uses the default English dispatcher.
func FormatThousands(digits string) string {
	return defaultDispatcher.FormatThousands(digits)
}

// FormatDisplay formats a candidate input the way the editor would show it,
// without accepting it.
func (e Editor) FormatDisplay(input string) string {
	if e.Kind != KindNumber || e.printer == nil {
		return input
	}
	return (&Dispatcher{printer: e.printer}).FormatThousands(input)
}

// groupDigits handles values beyond int64 with comma grouping.
func groupDigits(digits string) string {
	if digits == "" {
		return "0"
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
