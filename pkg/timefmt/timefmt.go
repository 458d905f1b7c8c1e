// Package timefmt converts strftime-style format strings to Go time layouts.
//
// Partition prefixes and scheduler inputs describe timestamps with percent
// directives (%Y-%m-%d-%H). The supported directive set is small and closed;
// unknown directives pass through as literal text.
package timefmt

import (
	"fmt"
	"strings"
	"time"
)

var directives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'j': "002",
}

// ParseError reports a value that does not match its declared format.
type ParseError struct {
	Format string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("value %q does not match format %q: %v", e.Value, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Layout converts an strftime-style format to a Go time layout.
func Layout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		next := format[i+1]
		if next == '%' {
			b.WriteByte('%')
			i++
			continue
		}
		if layout, ok := directives[next]; ok {
			b.WriteString(layout)
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Parse parses value according to an strftime-style format. Out-of-range
// components (day 40, month 13) are rejected, not clamped.
func Parse(format, value string) (time.Time, error) {
	t, err := time.Parse(Layout(format), value)
	if err != nil {
		return time.Time{}, &ParseError{Format: format, Value: value, Err: err}
	}
	return t, nil
}

// Format renders t according to an strftime-style format.
func Format(format string, t time.Time) string {
	return t.Format(Layout(format))
}
