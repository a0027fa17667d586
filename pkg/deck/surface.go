package deck

import (
	"regexp"
	"strconv"
	"strings"
)

var surfacePattern = regexp.MustCompile(`(?is)^[+*]?(\d{1,8})\s+([+\-]?\d{1,3}\s+)?([a-z][a-z/]{0,3})\s+(.+)$`)

// Surface is a surface card.
type Surface struct {
	Card
	Mnemonic  string
	Transform int // zero when absent
	Params    []float64
}

func parseSurface(raw string) (*Surface, error) {
	m := surfacePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, malformed("surface card %q", firstLine(raw))
	}
	number, _ := strconv.Atoi(m[1])
	s := &Surface{
		Card:     Card{Number: number, Raw: raw},
		Mnemonic: strings.ToLower(m[3]),
	}
	if t := strings.TrimSpace(m[2]); t != "" {
		s.Transform, _ = strconv.Atoi(t)
	}
	for _, w := range strings.Fields(m[4]) {
		v, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return nil, malformed("surface %d: parameter %q is not a number", number, w)
		}
		s.Params = append(s.Params, v)
	}
	return s, nil
}
