package deck

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// XsDir holds what the deck model needs from a transport cross-section
// directory: molar masses, the set of available zaids and zaid temperatures.
type XsDir struct {
	molarMasses  map[int]float64
	zaids        map[string]bool
	temperatures map[string]float64
}

var xsdirZaid = regexp.MustCompile(`\d{4,6}\.\d{2}c`)

// ParseXsDir parses the text of an xsdir file.
func ParseXsDir(raw string) (*XsDir, error) {
	x := &XsDir{
		molarMasses:  make(map[int]float64),
		zaids:        make(map[string]bool),
		temperatures: make(map[string]float64),
	}

	words := strings.Fields(raw)
	atomic, directory := indexOf(words, "atomic"), indexOf(words, "directory")
	if atomic < 0 || directory < 0 || atomic+3 > directory-1 {
		return nil, fmt.Errorf("xsdir: missing atomic weight ratio table")
	}
	ratios := words[atomic+3 : directory-1]
	for i := 0; i+1 < len(ratios); i += 2 {
		za, err := strconv.ParseFloat(ratios[i], 64)
		if err != nil {
			continue
		}
		awr, err := strconv.ParseFloat(ratios[i+1], 64)
		if err != nil {
			continue
		}
		x.molarMasses[int(za)] = awr * NeutronMass
	}

	for _, zaid := range xsdirZaid.FindAllString(raw, -1) {
		x.zaids[zaid] = true
	}

	lines := strings.Split(raw, "\n")
	start := -1
	for i, line := range lines {
		if strings.Contains(line, "directory") {
			start = i
		}
	}
	for _, line := range lines[start+1:] {
		fields := make([]string, 0, 12)
		for _, w := range strings.Fields(line) {
			if w != "ptable" {
				fields = append(fields, w)
			}
		}
		if len(fields) < 2 {
			continue
		}
		zaid := fields[0]
		if !strings.ContainsAny(strings.ToLower(zaid), "cm") {
			continue
		}
		if t, err := strconv.ParseFloat(fields[len(fields)-1], 64); err == nil {
			x.temperatures[zaid] = t
		}
	}
	return x, nil
}

// ReadXsDir loads the first readable xsdir among ./xsdir, path and
// $DATAPATH/xsdir.
func ReadXsDir(path string) (*XsDir, error) {
	candidates := []string{"xsdir"}
	if path != "" {
		candidates = append(candidates, path)
	}
	if dp := os.Getenv("DATAPATH"); dp != "" {
		candidates = append(candidates, filepath.Join(dp, "xsdir"))
	}
	for _, c := range candidates {
		raw, err := os.ReadFile(c)
		if err != nil {
			continue
		}
		return ParseXsDir(string(raw))
	}
	return nil, fmt.Errorf("xsdir not found in %v", candidates)
}

// MolarMass returns the molar mass of za in g/mol. Without a table entry the
// mass number is used.
func (x *XsDir) MolarMass(za int) float64 {
	if x != nil {
		if m, ok := x.molarMasses[za]; ok {
			return m
		}
	}
	return float64(ZaToZam(za) / 10 % 1000)
}

// Has reports whether zaid is available. A nil directory has everything.
func (x *XsDir) Has(zaid string) bool {
	if x == nil {
		return true
	}
	return x.zaids[zaid]
}

// Temperature returns the evaluation temperature of zaid in MeV.
func (x *XsDir) Temperature(zaid string) (float64, bool) {
	if x == nil {
		return 0, false
	}
	t, ok := x.temperatures[zaid]
	return t, ok
}

// Len returns the number of available zaids.
func (x *XsDir) Len() int {
	if x == nil {
		return 0
	}
	return len(x.zaids)
}

func indexOf(words []string, w string) int {
	for i, v := range words {
		if v == w {
			return i
		}
	}
	return -1
}
