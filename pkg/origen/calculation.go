package origen

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// Result tables parsed from TAPE6.
const (
	TableAbsorption = 19
	TableFission    = 21
)

var isotopeValue = regexp.MustCompile(`(?im)^([ A-Z]{3}[ 0-9]{3}M?) +( \d\.\d{3}e[+\-]\d\d)+$`)

// Calculation is the outcome of one burn cell's depletion run.
type Calculation struct {
	Inputs
	TAPE6 string
	TAPE7 string

	Volume float64 // cm³
	// ZamMoles is the end-of-step inventory.
	ZamMoles map[int]float64
	Burnup   float64
	Flux     float64
	Power    float64
	// Tables maps a TAPE6 table number to its last-column value per ZAm.
	Tables map[int]map[int]float64
	// Micros are the one-group cross sections the run was given.
	Micros Micros
}

// ReadCalculation parses the inputs and results left in dir.
func ReadCalculation(dir string, volume float64) (*Calculation, error) {
	read := func(name string) (string, error) {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		return string(raw), nil
	}
	var in Inputs
	var err error
	for _, f := range []struct {
		name string
		dst  *string
	}{{TAPE4, &in.TAPE4}, {TAPE5, &in.TAPE5}, {TAPE9, &in.TAPE9}, {TAPE10, &in.TAPE10}} {
		if *f.dst, err = read(f.name); err != nil {
			return nil, err
		}
	}
	tape6, err := read(TAPE6)
	if err != nil {
		return nil, err
	}
	tape7, err := read(TAPE7)
	if err != nil {
		return nil, err
	}
	return ParseCalculation(in, tape6, tape7, volume)
}

// ParseCalculation extracts the inventory, the burnup/flux/power triple and
// the absorption and fission tables from the solver results.
func ParseCalculation(in Inputs, tape6, tape7 string, volume float64) (*Calculation, error) {
	c := &Calculation{
		Inputs:   in,
		TAPE6:    tape6,
		TAPE7:    tape7,
		Volume:   volume,
		ZamMoles: make(map[int]float64),
		Tables:   make(map[int]map[int]float64),
	}

	var numbers []float64
	for _, line := range strings.Split(tape7, "\n") {
		if len(line) <= 5 {
			continue
		}
		for _, word := range strings.Fields(line[5:]) {
			v, err := strconv.ParseFloat(word, 64)
			if err != nil {
				return nil, malformedResult(TAPE7, fmt.Errorf("%q is not a number", word))
			}
			numbers = append(numbers, v)
		}
	}
	if len(numbers) < 3 {
		return nil, malformedResult(TAPE7, fmt.Errorf("found %d numbers, want at least 3", len(numbers)))
	}
	// Entries are (ZAm, moles) pairs; the last three numbers are burnup,
	// flux and power.
	for i := 0; i+4 < len(numbers); i += 2 {
		zam, moles := int(numbers[i]), numbers[i+1]
		if zam != 0 && moles != 0 {
			c.ZamMoles[zam] += moles
		}
	}
	tail := numbers[len(numbers)-3:]
	c.Burnup, c.Flux, c.Power = tail[0], tail[1], tail[2]

	for _, table := range []int{TableAbsorption, TableFission} {
		c.Tables[table] = parseTable(tape6, table)
	}
	return c, nil
}

func parseTable(tape6 string, table int) map[int]float64 {
	out := make(map[int]float64)
	block := regexp.MustCompile(fmt.Sprintf(`(?im)^0 +%d( .+\n){0,70}^[01]`, table))
	for _, b := range block.FindAllString(tape6, -1) {
		for _, m := range isotopeValue.FindAllStringSubmatch(b, -1) {
			v := parseNumber(m[2])
			if v <= 0 {
				continue
			}
			zam, err := deck.IsotopeToZam(m[1])
			if err != nil {
				continue
			}
			out[zam] = v
		}
	}
	return out
}

func malformedResult(file string, err error) error {
	return engine.NewPermanentError("malformed depletion result", err).
		WithCode(engine.ErrCodeMalformedOutput).
		WithResource(file)
}

// Moles returns the total moles of the inventory.
func (c *Calculation) Moles() float64 {
	var total float64
	for _, m := range c.ZamMoles {
		total += m
	}
	return total
}

// NumberDensities returns atoms/b·cm per ZAm.
func (c *Calculation) NumberDensities() map[int]float64 {
	out := make(map[int]float64, len(c.ZamMoles))
	for zam, m := range c.ZamMoles {
		out[zam] = uncertainty.SafeDivide(m*deck.Avogadro, c.Volume)
	}
	return out
}

// NumberDensity returns the total atom density.
func (c *Calculation) NumberDensity() float64 {
	var total float64
	for _, n := range c.NumberDensities() {
		total += n
	}
	return total
}

// MassDensities returns g/cm³ per ZAm given molar masses by ZA.
func (c *Calculation) MassDensities(molarMass func(za int) float64) map[int]float64 {
	out := make(map[int]float64, len(c.ZamMoles))
	for zam, m := range c.ZamMoles {
		out[zam] = uncertainty.SafeDivide(m*molarMass(deck.ZamToZa(zam)), c.Volume)
	}
	return out
}

// AtomFractions returns the inventory normalized to one.
func (c *Calculation) AtomFractions() map[int]float64 {
	return normalize(c.ZamMoles)
}

// AbsorptionFractions returns each ZAm's share of the absorption rate.
func (c *Calculation) AbsorptionFractions() map[int]float64 {
	return normalize(c.Tables[TableAbsorption])
}

// FissionFractions returns each ZAm's share of the fission rate.
func (c *Calculation) FissionFractions() map[int]float64 {
	return normalize(c.Tables[TableFission])
}

// DecayPower returns the decay heat of the inventory in watts.
func (c *Calculation) DecayPower(libs *Libraries) float64 {
	return libs.DecayPower(c.ZamMoles)
}

func normalize(values map[int]float64) map[int]float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	out := make(map[int]float64, len(values))
	for k, v := range values {
		out[k] = uncertainty.SafeDivide(v, total)
	}
	return out
}
