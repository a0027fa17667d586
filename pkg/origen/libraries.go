// Package origen reads and writes the exchange files of the depletion
// solver: the decay, photon and cross-section libraries, the TAPE4/5/9/10
// inputs of one burn cell and the TAPE6/TAPE7 results it leaves behind.
package origen

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// Cross-section library groups and the reactions their six columns hold.
// Group 1 is activation products, 2 actinides and 3 fission products.
var groupMTs = map[int][4]int{
	1: {102, 16, 107, 103},
	2: {102, 16, 17, -6},
	3: {102, 16, 107, 103},
}

// GroupMTs returns the four reaction numbers of the cross-section library
// with the given id. The group is the last digit of the id.
func GroupMTs(lib int) ([4]int, error) {
	mts, ok := groupMTs[lib%10]
	if !ok {
		return [4]int{}, fmt.Errorf("cross-section library %d is not in group 1, 2 or 3", lib)
	}
	return mts, nil
}

// AllMTs returns every reaction number any library group uses, sorted.
func AllMTs() []int {
	seen := make(map[int]bool)
	var out []int
	for _, mts := range groupMTs {
		for _, mt := range mts {
			if !seen[mt] {
				seen[mt] = true
				out = append(out, mt)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Seconds per half-life unit code of the decay library.
var halfLifeUnits = map[string]float64{
	"1": 1,
	"2": 60,
	"3": 60 * 60,
	"4": 60 * 60 * 24,
	"5": 60 * 60 * 24 * deck.DaysPerYear,
	"6": 0, // stable
	"7": 60 * 60 * 24 * deck.DaysPerYear * 1e3,
	"8": 60 * 60 * 24 * deck.DaysPerYear * 1e6,
	"9": 60 * 60 * 24 * deck.DaysPerYear * 1e9,
}

var (
	decayEntry = regexp.MustCompile(`(?im)^ *\d {2,3}(\d{5,7}) +(\d) +([\d.e+\- ]{9}).+\n[\d ]{20}([\d.e+\- ]{9} ){3}`)
	libraryID  = regexp.MustCompile(`(?m)^ *(\d{1,3}) +`)
	xsEntry    = regexp.MustCompile(`(?im)^ *(\d{1,3}) +(\d{5,7}) +([\d.e+\-]+) +([\d.e+\-]+) +[\d.e+\-]+ +[\d.e+\-]+ +([\d.e+\-]+) +([\d.e+\-]+) +[\d.e+\-]+ *$`)
	xsLine     = regexp.MustCompile(`^ *(\d+) +(\d+)`)
)

// Libraries holds the raw default libraries and the tables derived from
// them.
type Libraries struct {
	Decay  string
	Photon string
	Xs     string

	// WattsPerMole maps a ZA, in the transport solver's metastable
	// encoding, to its decay heat in W/mol.
	WattsPerMole map[int]float64
	// LibraryZams maps each cross-section library id to its ZAms in file
	// order.
	LibraryZams map[int][]int
	// Excited maps library id and ZAm to the fractions of the first two
	// reactions that lead to the excited state.
	Excited map[int]map[int][2]float64
}

// LoadLibraries reads the three default libraries. pathTemplate holds one
// "%s" that receives each library name.
func LoadLibraries(pathTemplate, decayName, photonName, xsName string) (*Libraries, error) {
	read := func(name string) (string, error) {
		path := fmt.Sprintf(pathTemplate, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read library %s: %w", path, err)
		}
		return string(raw), nil
	}
	decay, err := read(decayName)
	if err != nil {
		return nil, err
	}
	photon, err := read(photonName)
	if err != nil {
		return nil, err
	}
	xs, err := read(xsName)
	if err != nil {
		return nil, err
	}
	return ParseLibraries(decay, photon, xs)
}

// ParseLibraries derives decay heats, library ZAms and excited-state
// fractions from the raw library texts.
func ParseLibraries(decay, photon, xs string) (*Libraries, error) {
	l := &Libraries{
		Decay:        decay,
		Photon:       photon,
		Xs:           xs,
		WattsPerMole: make(map[int]float64),
		LibraryZams:  make(map[int][]int),
		Excited:      make(map[int]map[int][2]float64),
	}

	for _, m := range decayEntry.FindAllStringSubmatch(decay, -1) {
		zam := int(parseNumber(m[1]))
		seconds := halfLifeUnits[m[2]]
		halfLife := parseNumber(m[3])
		recoverable := parseNumber(m[4])
		perSecond := uncertainty.SafeDivide(1, seconds*halfLife)
		l.WattsPerMole[zamToZa(zam)] = math.Ln2 * perSecond * recoverable * deck.JoulePerMeV * deck.Avogadro * 1e24
	}

	for _, m := range libraryID.FindAllStringSubmatch(xs, -1) {
		lib, _ := strconv.Atoi(m[1])
		if _, ok := l.LibraryZams[lib]; !ok {
			l.LibraryZams[lib] = nil
			l.Excited[lib] = make(map[int][2]float64)
		}
	}
	for _, m := range xsEntry.FindAllStringSubmatch(xs, -1) {
		lib, _ := strconv.Atoi(m[1])
		zam := int(parseNumber(m[2]))
		s0, s1, e0, e1 := parseNumber(m[3]), parseNumber(m[4]), parseNumber(m[5]), parseNumber(m[6])
		l.LibraryZams[lib] = append(l.LibraryZams[lib], zam)
		l.Excited[lib][zam] = [2]float64{
			uncertainty.SafeDivide(e0, s0+e0),
			uncertainty.SafeDivide(e1, s1+e1),
		}
	}
	if len(l.LibraryZams) == 0 {
		return nil, fmt.Errorf("cross-section library holds no library ids")
	}
	return l, nil
}

// LibraryIDs returns the cross-section library ids in ascending order.
func (l *Libraries) LibraryIDs() []int {
	ids := make([]int, 0, len(l.LibraryZams))
	for lib := range l.LibraryZams {
		ids = append(ids, lib)
	}
	sort.Ints(ids)
	return ids
}

// DecayPower returns the decay heat in watts of an inventory in moles by
// ZAm.
func (l *Libraries) DecayPower(zamMoles map[int]float64) float64 {
	var total float64
	for zam, moles := range zamMoles {
		total += moles * l.WattsPerMole[zamToZa(zam)]
	}
	return total
}

// Zams returns the set of every ZAm in any cross-section library.
func (l *Libraries) Zams() map[int]bool {
	out := make(map[int]bool)
	for _, zams := range l.LibraryZams {
		for _, zam := range zams {
			out[zam] = true
		}
	}
	return out
}

// zamToZa converts a ZAm to the ZA a transport zaid of it would carry.
func zamToZa(zam int) int {
	return deck.ZaidToZa(deck.ZamToZaid(zam, ""))
}

func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, " ", ""), 64)
	if err != nil {
		return 0
	}
	return v
}
