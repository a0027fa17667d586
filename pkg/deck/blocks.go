package deck

import (
	"regexp"
	"strings"
)

var (
	blankLine    = regexp.MustCompile(`\n[ \t]*\n`)
	indentedLine = regexp.MustCompile(`^( {5,}|\t)`)
	ampersandEnd = regexp.MustCompile(`&\s*$`)
)

// normalizeLines strips trailing whitespace from every line and from the end.
func normalizeLines(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), " \t\r\n")
}

// stripComments drops comment lines ("c" or "c " in the first two columns)
// and truncates "$" inline comments.
func stripComments(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		head := line
		if len(head) > 2 {
			head = head[:2]
		}
		if h := strings.ToLower(head); h == "c" || h == "c " {
			continue
		}
		if i := strings.IndexByte(line, '$'); i >= 0 {
			line = line[:i]
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}
	return strings.TrimRight(strings.Join(kept, "\n"), " \t\n")
}

// splitBlocks splits a comment-free deck into its cell, surface and data blocks.
func splitBlocks(stripped string) (cells, surfaces, data string, err error) {
	blocks := blankLine.Split(stripped, -1)
	if len(blocks) != 3 {
		return "", "", "", malformed("deck has %d blank-line separated blocks, want 3", len(blocks))
	}
	return blocks[0], blocks[1], blocks[2], nil
}

// logicalCards merges continuation lines into the card they continue. A line
// continues the previous card when it is indented by five or more columns or
// a tab, or when the previous line ended with "&".
func logicalCards(block string) []string {
	var cards []string
	continuation := false
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		continuation = continuation || indentedLine.MatchString(line)
		if continuation && len(cards) > 0 {
			cards[len(cards)-1] += "\n" + line
		} else {
			cards = append(cards, line)
		}
		continuation = ampersandEnd.MatchString(line)
	}
	return cards
}
