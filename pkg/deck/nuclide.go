package deck

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Physical constants shared by the deck, results and depletion packages.
const (
	// Avogadro is Avogadro's number in units of 1e24 / mol, so that
	// atoms/b·cm × cm³ / Avogadro gives moles.
	Avogadro     = 6.02214129e23 / 1e24
	NeutronMass  = 1.00866491600
	JoulePerMeV  = 1.602176565e-13
	MeVPerJoule  = 1 / JoulePerMeV
	Boltzmann    = 1.3806488e-23
	KelvinPerMeV = 1 / (Boltzmann * MeVPerJoule)
	DaysPerYear  = 365.242
)

var elements = []string{
	"n", "H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne", "Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K",
	"Ca", "Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn", "Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr",
	"Y", "Zr", "Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn", "Sb", "Te", "I", "Xe", "Cs", "Ba", "La",
	"Ce", "Pr", "Nd", "Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm", "Yb", "Lu", "Hf", "Ta", "W", "Re", "Os",
	"Ir", "Pt", "Au", "Hg", "Tl", "Pb", "Bi", "Po", "At", "Rn", "Fr", "Ra", "Ac", "Th", "Pa", "U", "Np", "Pu", "Am",
	"Cm", "Bk", "Cf", "Es", "Fm", "Md", "No", "Lr", "Rf", "Db", "Sg", "Bh", "Hs", "Mt", "Ds", "Rg", "Cn", "Uut",
	"Fl", "Uup", "Lv", "Uus", "Uuo",
}

// ElementSymbol returns the chemical symbol for atomic number z, or "?" when
// z is out of range.
func ElementSymbol(z int) string {
	if z < 0 || z >= len(elements) {
		return "?"
	}
	return elements[z]
}

// ZaidToZa returns the integer ZA of a zaid such as "92235.71c".
func ZaidToZa(zaid string) int {
	head := zaid
	if i := strings.IndexByte(zaid, '.'); i >= 0 {
		head = zaid[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(head), 64)
	if err != nil {
		return 0
	}
	return int(v)
}

// ZaidSuffix returns the library suffix of a zaid ("71c" for "92235.71c").
func ZaidSuffix(zaid string) string {
	if i := strings.LastIndexByte(zaid, '.'); i >= 0 {
		return zaid[i+1:]
	}
	return ""
}

// ZaToZam converts a ZA to a ZAm (Z·10000 + A·10 + m). Natural carbon maps to
// carbon-12, Am-242 and Am-242m trade places, and an A above 300 encodes a
// metastable state.
func ZaToZam(za int) int {
	if za == 6000 {
		za = 6012
	}
	switch za {
	case 95242:
		return 952421
	case 95642:
		return 952420
	}
	z, a := za/1000, za%1000
	m := 0
	if a > 300 {
		m = floorDiv(a-2*z-300, 100)
		a -= 300 + m*100
	}
	return z*10000 + a*10 + m
}

// ZamToZa drops the metastable digit.
func ZamToZa(zam int) int {
	return zam / 10
}

// ZamToZaid is the inverse of ZaidToZam for a given library suffix.
func ZamToZaid(zam int, suffix string) string {
	za, m := zam/10, zam%10
	if za == 6012 {
		za = 6000
	}
	switch {
	case za == 95242 && m == 1:
		return fmt.Sprintf("95242.%s", suffix)
	case za == 95242 && m == 0:
		return fmt.Sprintf("95642.%s", suffix)
	}
	if m > 0 {
		za += 300 + 100*m
	}
	return fmt.Sprintf("%d.%s", za, suffix)
}

// ZaidToZam converts a zaid to a ZAm.
func ZaidToZam(zaid string) int {
	return ZaToZam(ZaidToZa(zaid))
}

// ZaToIsotope formats a ZA as "U-235".
func ZaToIsotope(za int) string {
	return fmt.Sprintf("%s-%d", ElementSymbol(za/1000), za%1000)
}

// ZaidToIsotope formats a zaid as "U-235".
func ZaidToIsotope(zaid string) string {
	return ZaToIsotope(ZaidToZa(zaid))
}

// IsActinide reports whether Z > 88.
func IsActinide(za int) bool {
	return za/1000 > 88
}

var (
	isotopeDigits = regexp.MustCompile(`\d+`)
	isotopeSymbol = regexp.MustCompile(`[A-Z][a-z]?`)
)

// IsotopeToZam parses depletion-solver isotope labels such as "U235",
// "PU239" or "AM242M" into a ZAm.
func IsotopeToZam(isotope string) (int, error) {
	isotope = strings.TrimSpace(isotope)
	m := 0
	if strings.HasSuffix(isotope, "M") {
		m = 1
		isotope = strings.TrimSuffix(isotope, "M")
	}
	digits := isotopeDigits.FindString(isotope)
	if digits == "" {
		return 0, fmt.Errorf("isotope %q has no mass number", isotope)
	}
	a, _ := strconv.Atoi(digits)

	letters := strings.TrimSpace(strings.Replace(isotope, digits, "", 1))
	if letters == "" {
		return 0, fmt.Errorf("isotope %q has no element symbol", isotope)
	}
	symbol := strings.ToUpper(letters[:1]) + strings.ToLower(letters[1:])
	if !isotopeSymbol.MatchString(symbol) {
		return 0, fmt.Errorf("isotope %q has a malformed element symbol", isotope)
	}
	for z, s := range elements {
		if s == symbol {
			return z*10000 + a*10 + m, nil
		}
	}
	return 0, fmt.Errorf("isotope %q: unknown element %q", isotope, symbol)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
