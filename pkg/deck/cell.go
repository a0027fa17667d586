package deck

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	cellPattern     = regexp.MustCompile(`(?is)^(\d{1,8})\s+(\d{1,8})(?:\s+([\d.e+\-]+))?((?:(?:\s*:\s*|\s+)[+\-]?\d{1,8})*)(?:\s+(.*))?$`)
	cellParamPrefix = regexp.MustCompile(`(?i)(imp|vol|pwt|ext|fcl|wwn|dxc|nonu|pd|tmp|u|trcl|lat|fill)`)
)

// Cell is a geometry cell card.
type Cell struct {
	Card
	Material    int
	Density     float64 // signed; zero for void cells
	Surfaces    []int
	Importance  float64
	Volume      float64
	Temperature float64 // MeV
	Universe    int     // zero when the cell belongs to the base universe
	Fill        int     // zero when the cell is not filled
	Lattice     int

	// Composition is nil for void cells.
	Composition *Composition

	densityAt     [2]int
	temperatureAt [2]int
}

func parseCell(raw string) (*Cell, error) {
	idx := cellPattern.FindStringSubmatchIndex(raw)
	if idx == nil {
		return nil, malformed("cell card %q", firstLine(raw))
	}
	group := func(i int) string {
		if idx[2*i] < 0 {
			return ""
		}
		return raw[idx[2*i]:idx[2*i+1]]
	}

	number, _ := strconv.Atoi(group(1))
	material, _ := strconv.Atoi(group(2))
	c := &Cell{
		Card:          Card{Number: number, Raw: raw},
		Material:      material,
		Importance:    1,
		densityAt:     [2]int{-1, -1},
		temperatureAt: [2]int{-1, -1},
	}

	surfaces := group(4)
	if density := group(3); density != "" {
		if material == 0 {
			// A void cell has no density; the token is its first surface.
			surfaces = density + " " + surfaces
		} else {
			d, err := strconv.ParseFloat(density, 64)
			if err != nil {
				return nil, malformed("cell %d: density %q is not a number", number, density)
			}
			c.Density = d
			c.densityAt = [2]int{idx[6], idx[7]}
		}
	}
	for _, w := range strings.Fields(strings.ReplaceAll(surfaces, ":", " ")) {
		s, err := strconv.Atoi(w)
		if err != nil {
			return nil, malformed("cell %d: surface %q is not an integer", number, w)
		}
		c.Surfaces = append(c.Surfaces, s)
	}

	if idx[10] >= 0 {
		if err := c.parseParameters(raw, idx[10]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cell) parseParameters(raw string, offset int) error {
	params := raw[offset:]
	keys := cellParamPrefix.FindAllStringIndex(params, -1)
	for i, k := range keys {
		end := len(params)
		if i+1 < len(keys) {
			end = keys[i+1][0]
		}
		key := strings.ToLower(params[k[0]:k[1]])
		value := strings.Fields(strings.ReplaceAll(params[k[1]:end], "=", " "))
		if len(value) == 0 {
			continue
		}
		switch key {
		case "imp":
			v, err := strconv.ParseFloat(value[len(value)-1], 64)
			if err != nil {
				return malformed("cell %d: importance %q", c.Number, value[len(value)-1])
			}
			c.Importance = v
		case "vol":
			v, err := strconv.ParseFloat(value[0], 64)
			if err != nil {
				return malformed("cell %d: volume %q", c.Number, value[0])
			}
			c.Volume = v
		case "tmp":
			v, err := strconv.ParseFloat(value[0], 64)
			if err != nil {
				return malformed("cell %d: temperature %q", c.Number, value[0])
			}
			c.Temperature = v
			c.temperatureAt = [2]int{offset + k[0], offset + end}
		case "u":
			c.Universe = parseIntToken(value[0])
		case "lat":
			c.Lattice = parseIntToken(value[0])
		case "fill":
			// Lattice fill arrays start with index ranges; only a plain
			// universe number establishes a parent.
			if !strings.Contains(value[0], ":") {
				c.Fill = parseIntToken(value[0])
			}
		}
	}
	return nil
}

// HasDensity reports whether the cell card carries a density token.
func (c *Cell) HasDensity() bool {
	return c.densityAt[0] >= 0
}

// WithDensity returns the card text with the density token replaced by a
// number density in "%+10.7f" form.
func (c *Cell) WithDensity(numberDensity float64) string {
	if !c.HasDensity() {
		return c.Raw
	}
	return c.Raw[:c.densityAt[0]] + fmt.Sprintf("%+10.7f", numberDensity) + c.Raw[c.densityAt[1]:]
}

// WithTemperature returns the card text with its tmp parameter set to t MeV.
func (c *Cell) WithTemperature(t float64) string {
	param := fmt.Sprintf("tmp=%.5E", t)
	if c.temperatureAt[0] < 0 {
		return c.Raw + " " + param
	}
	tail := c.Raw[c.temperatureAt[1]:]
	sep := ""
	if tail != "" {
		sep = " "
	}
	return strings.TrimRight(c.Raw[:c.temperatureAt[0]], " ") + " " + param + sep + strings.TrimLeft(tail, " ")
}

// WithUpdates returns the card text with the density token and the tmp
// parameter replaced, skipping whichever is nil. A negative density is a
// mass density in g/cm³.
func (c *Cell) WithUpdates(density, temperature *float64) string {
	raw := c.Raw
	if temperature != nil {
		raw = c.WithTemperature(*temperature)
	}
	if density != nil && c.HasDensity() {
		// The density precedes every parameter, so its offsets survive the
		// temperature edit.
		raw = raw[:c.densityAt[0]] + fmt.Sprintf("%+10.7f", *density) + raw[c.densityAt[1]:]
	}
	return raw
}

// IsVoid reports whether the cell has no material.
func (c *Cell) IsVoid() bool {
	return c.Material == 0
}

// NumberDensity returns the cell atom density in atoms/b·cm.
func (c *Cell) NumberDensity() float64 {
	if c.Composition == nil {
		return 0
	}
	return c.Composition.NumberDensity
}

// MassDensity returns the cell density in g/cm³.
func (c *Cell) MassDensity() float64 {
	if c.Composition == nil {
		return 0
	}
	return c.Composition.MassDensity
}

// Mass returns the cell mass in grams.
func (c *Cell) Mass() float64 {
	return c.MassDensity() * c.Volume
}

// Moles returns the amount of atoms in the cell.
func (c *Cell) Moles() float64 {
	return c.NumberDensity() * c.Volume / Avogadro
}

// Zaids returns the sorted zaids of the cell composition.
func (c *Cell) Zaids() []string {
	if c.Composition == nil {
		return nil
	}
	return c.Composition.Zaids()
}

// ZaidNumberDensity returns the partial atom density of zaid.
func (c *Cell) ZaidNumberDensity(zaid string) float64 {
	if c.Composition == nil {
		return 0
	}
	return c.Composition.NumberDensities[zaid]
}

// ZaidMassDensity returns the partial density of zaid.
func (c *Cell) ZaidMassDensity(zaid string) float64 {
	if c.Composition == nil {
		return 0
	}
	return c.Composition.MassDensities[zaid]
}

// ZaidMoles returns the moles of zaid in the cell.
func (c *Cell) ZaidMoles(zaid string) float64 {
	return c.ZaidNumberDensity(zaid) * c.Volume / Avogadro
}

// ZaidMass returns the mass of zaid in the cell.
func (c *Cell) ZaidMass(zaid string) float64 {
	return c.ZaidMassDensity(zaid) * c.Volume
}

// ZaMoles sums moles per ZA over the cell composition.
func (c *Cell) ZaMoles() map[int]float64 {
	out := make(map[int]float64)
	if c.Composition == nil {
		return out
	}
	for zaid, n := range c.Composition.NumberDensities {
		out[ZaidToZa(zaid)] += n * c.Volume / Avogadro
	}
	return out
}

// HeavyMetalMT returns the actinide mass of the cell in metric tons.
func (c *Cell) HeavyMetalMT() float64 {
	if c.Composition == nil {
		return 0
	}
	var w float64
	for zaid, f := range c.Composition.WeightFractions {
		if IsActinide(ZaidToZa(zaid)) {
			w += f
		}
	}
	return c.Mass() / 1e6 * w
}

// DecayPower returns the decay heat in watts given a ZA to W/mol table.
func (c *Cell) DecayPower(wattsPerMole map[int]float64) float64 {
	var total float64
	for za, moles := range c.ZaMoles() {
		total += moles * wattsPerMole[za]
	}
	return total
}

func parseIntToken(s string) int {
	v, err := strconv.ParseFloat(strings.Trim(s, "()"), 64)
	if err != nil {
		return 0
	}
	return int(v)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
