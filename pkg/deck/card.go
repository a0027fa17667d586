package deck

import (
	"regexp"
	"strings"
	"sync"
)

// cardGap matches what may sit between two words of a card in the deck
// text: blanks, continuation ampersands, inline "$" comments, line breaks
// and whole comment lines.
const cardGap = `(?:[ \t&]|\$[^\n]*|\n(?:[cC](?:[ \t][^\n]*)?\n)*)+`

// cardTail captures the trailing blanks and inline comment of the card's
// last line so a substitution can keep them.
const cardTail = `(?m:([ \t]*(?:\$[^\n]*)?)$)`

// Card is one logical record of a deck: its identifying number and raw text.
// The matcher locates the record inside a larger text regardless of how its
// whitespace, continuation markers and comments were laid out.
type Card struct {
	Number int
	Raw    string

	once    sync.Once
	matcher *regexp.Regexp
}

// NewCard returns an unnumbered card.
func NewCard(raw string) *Card {
	return &Card{Raw: raw}
}

func (c *Card) String() string {
	return c.Raw
}

// Matcher returns the pattern matching this card at the start of a line.
// Submatch 1 is the tail of the card's last line.
func (c *Card) Matcher() *regexp.Regexp {
	c.once.Do(func() {
		words := strings.Fields(c.Raw)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		c.matcher = regexp.MustCompile(`\n` + strings.Join(words, cardGap) + cardTail)
	})
	return c.matcher
}
