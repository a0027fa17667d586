package deck

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mocdown/mocdown/pkg/engine"
)

// The newput is an editable copy of the raw deck. Substitutions are applied
// to the copy only; the parsed cards keep describing the original input.

// ResetNewput discards all substitutions and restarts from the raw deck.
func (d *Deck) ResetNewput() {
	raw := d.raw
	d.newput = &raw
}

// ClearNewput forgets the newput entirely, so IsUpdated reports false.
func (d *Deck) ClearNewput() {
	d.newput = nil
}

// IsUpdated reports whether a newput has been started.
func (d *Deck) IsUpdated() bool {
	return d.newput != nil
}

// Newput returns the substituted deck text, or the raw deck when no
// substitution was made.
func (d *Deck) Newput() string {
	if d.newput == nil {
		return d.raw
	}
	return *d.newput
}

// ReplaceCard substitutes every occurrence of old with replacement. The
// trailing inline comment of each occurrence is kept; an empty replacement
// deletes the card along with it. It fails with ErrCardNotMatched when old
// cannot be found in the newput.
func (d *Deck) ReplaceCard(old *Card, replacement string) error {
	if d.newput == nil {
		d.ResetNewput()
	}
	matcher := old.Matcher()
	if !matcher.MatchString(*d.newput) {
		return engine.NewPreconditionError("card not found in deck", nil).
			WithCode(engine.ErrCodeCardNotMatched).
			WithResource(firstLine(old.Raw)).
			WithOperation("replace card")
	}
	var out string
	if card := trimCard(replacement); card != "" {
		out = matcher.ReplaceAllString(*d.newput, "\n"+strings.ReplaceAll(card, "$", "$$")+"${1}")
	} else {
		out = matcher.ReplaceAllLiteralString(*d.newput, "")
	}
	d.newput = &out
	return nil
}

// trimCard drops surrounding blank lines and trailing blanks from card text
// but keeps the indentation of its first line.
func trimCard(text string) string {
	text = strings.TrimRight(text, " \t\r\n")
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 || strings.TrimSpace(text[:i]) != "" {
			return text
		}
		text = text[i+1:]
	}
}

// ReplaceNamedCard substitutes a singleton card such as "kcode".
func (d *Deck) ReplaceNamedCard(name, replacement string) error {
	card := d.named[name]
	if card == nil {
		return engine.NewPreconditionError(fmt.Sprintf("deck has no %s card", name), nil).
			WithCode(engine.ErrCodeCardNotMatched).
			WithOperation("replace card")
	}
	return d.ReplaceCard(card, replacement)
}

// AppendCard appends text as new cards at the end of the newput.
func (d *Deck) AppendCard(text string) {
	if d.newput == nil {
		d.ResetNewput()
	}
	out := *d.newput + "\n" + trimCard(text)
	d.newput = &out
}

// NewputFileName returns the deck file name with its last extension replaced
// by a zero-padded step number, e.g. "core.i" becomes "core.004".
func (d *Deck) NewputFileName(step int) string {
	dir, base := filepath.Split(d.FileName)
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return fmt.Sprintf("%s%s.%03d", dir, base, step)
}
