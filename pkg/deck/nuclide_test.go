package deck

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestZaToZam(t *testing.T) {
	tests := []struct {
		za   int
		want int
	}{
		{92235, 922350},
		{6000, 60120},
		{95242, 952421},
		{95642, 952420},
		{92635, 922351},
		{1001, 10010},
	}
	for _, tt := range tests {
		if got := ZaToZam(tt.za); got != tt.want {
			t.Errorf("ZaToZam(%d) = %d, want %d", tt.za, got, tt.want)
		}
	}
}

func TestZamToZaid_InvertsZaidToZam(t *testing.T) {
	for _, zaid := range []string{"92235.70c", "6000.70c", "95242.70c", "95642.70c", "92635.70c", "8016.70c"} {
		got := ZamToZaid(ZaidToZam(zaid), "70c")
		if got != zaid {
			t.Errorf("ZamToZaid(ZaidToZam(%q)) = %q", zaid, got)
		}
	}
}

func TestZaidHelpers(t *testing.T) {
	if got := ZaidToZa("92235.70c"); got != 92235 {
		t.Errorf("ZaidToZa() = %d", got)
	}
	if got := ZaidSuffix("92235.70c"); got != "70c" {
		t.Errorf("ZaidSuffix() = %q", got)
	}
	if got := ZaidToIsotope("94239.71c"); got != "Pu-239" {
		t.Errorf("ZaidToIsotope() = %q", got)
	}
	if !IsActinide(90232) || IsActinide(88226) {
		t.Error("IsActinide() boundary is Z > 88")
	}
	if ElementSymbol(-1) != "?" || ElementSymbol(26) != "Fe" {
		t.Error("ElementSymbol() lookup failed")
	}
}

func TestIsotopeToZam(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"U235", 922350, false},
		{"PU239", 942390, false},
		{"AM242M", 952421, false},
		{" H  1", 10010, false},
		{"XX12", 0, true},
		{"U", 0, true},
		{"235", 0, true},
	}
	for _, tt := range tests {
		got, err := IsotopeToZam(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("IsotopeToZam(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("IsotopeToZam(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

const sampleXsDir = `datapath=/data
atomic weight ratios
 1001 0.999167 8016 15.85751
 92235 233.0248
directory
 1001.70c 0.999167 endf70a 0 1 1 2.53E-08
 8016.70c 15.857510 endf70b 0 1 4 2.53E-08 ptable
 92235.70c 233.024800 endf70j 0 1 3 2.53E-08
 lwtr.10t 0.999167 tmccs 0 1 1 2.53E-08
`

func TestParseXsDir(t *testing.T) {
	x, err := ParseXsDir(sampleXsDir)
	if err != nil {
		t.Fatalf("ParseXsDir() error = %v", err)
	}
	if got, want := x.MolarMass(8016), 15.85751*NeutronMass; math.Abs(got-want) > 1e-12 {
		t.Errorf("MolarMass(8016) = %v, want %v", got, want)
	}
	if got := x.MolarMass(94239); got != 239 {
		t.Errorf("MolarMass(94239) fallback = %v, want 239", got)
	}
	if !x.Has("92235.70c") || x.Has("94239.70c") {
		t.Error("Has() misreports availability")
	}
	if x.Len() != 3 {
		t.Errorf("Len() = %d, want 3", x.Len())
	}
	if temp, ok := x.Temperature("8016.70c"); !ok || temp != 2.53e-08 {
		t.Errorf("Temperature(8016.70c) = %v, %v; want 2.53e-08, true", temp, ok)
	}
	if _, ok := x.Temperature("lwtr.10t"); ok {
		t.Error("Temperature() recorded a thermal table")
	}

	var none *XsDir
	if !none.Has("anything") || none.Len() != 0 {
		t.Error("nil XsDir must accept every zaid")
	}

	if _, err := ParseXsDir("no tables here"); err == nil {
		t.Error("ParseXsDir() accepted text without a ratio table")
	}
}

func TestWordArrange(t *testing.T) {
	words := []string{"aaaa", "bbbb", "cccc", "dddd"}
	got := WordArrange(words, "m1", 15, 6)
	want := "m1 aaaa bbbb\n      cccc dddd"
	if got != want {
		t.Errorf("WordArrange() = %q, want %q", got, want)
	}
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 15 {
			t.Errorf("line %q exceeds 15 columns", line)
		}
	}

	if got := WordArrange(nil, "f4:n", 0, 0); got != "f4:n" {
		t.Errorf("WordArrange(nil) = %q", got)
	}
}

func TestUniqueDigits(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	forbidden := map[int]bool{}
	for i := 0; i < 9; i++ {
		forbidden[i] = true
	}
	if got := UniqueDigits(rng, 1, forbidden); got != 9 {
		t.Errorf("UniqueDigits() = %d, want the only free digit 9", got)
	}
}

func TestNumericLess(t *testing.T) {
	zaids := []string{"92235.70c", "1001.70c", "8016.70c", "1001.66c"}
	sort.Slice(zaids, func(i, j int) bool { return numericLess(zaids[i], zaids[j]) })
	want := []string{"1001.66c", "1001.70c", "8016.70c", "92235.70c"}
	if diff := cmp.Diff(want, zaids); diff != "" {
		t.Errorf("numeric order mismatch (-want +got):\n%s", diff)
	}
	if center("ab", 5) != " ab  " {
		t.Errorf("center() = %q", center("ab", 5))
	}
}
