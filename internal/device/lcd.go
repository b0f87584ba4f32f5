package device

import "strings"

// CenterLine pads s with spaces on both sides to LCDWidth characters,
// truncating if s is already too long. Mirrors the teacher's and the
// original source's `str.center(maximum_lcd_characters, ' ')`.
func CenterLine(s string) string {
	if len(s) >= LCDWidth {
		return s[:LCDWidth]
	}
	total := LCDWidth - len(s)
	left := total / 2
	right := total - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}
