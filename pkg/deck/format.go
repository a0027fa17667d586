package deck

import (
	"math/rand"
	"strings"
)

// WordArrange joins words into lines no wider than columns. The first line
// starts with prefix; continuation lines are indented so the deck parser
// treats them as part of the same card.
func WordArrange(words []string, prefix string, columns, indent int) string {
	if columns <= 0 {
		columns = 80
	}
	if indent <= 0 {
		indent = 5
	}
	var lines []string
	line := []string{prefix}
	width := len(prefix)
	for _, w := range words {
		if len(line)+len(w)+width > columns {
			lines = append(lines, strings.Join(line, " "))
			pad := strings.Repeat(" ", indent-1)
			line, width = []string{pad}, len(pad)
		}
		line = append(line, w)
		width += len(w)
	}
	lines = append(lines, strings.Join(line, " "))
	return strings.Join(lines, "\n")
}

// UniqueDigits draws a random number with at most digits digits that is not
// in forbidden.
func UniqueDigits(rng *rand.Rand, digits int, forbidden map[int]bool) int {
	limit := 1
	for i := 0; i < digits; i++ {
		limit *= 10
	}
	for {
		n := rng.Intn(limit)
		if !forbidden[n] {
			return n
		}
	}
}

// center pads s to width with the extra space on the right.
func center(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-n-left)
}
