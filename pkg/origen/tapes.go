package origen

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mocdown/mocdown/pkg/engine"
)

// Exchange file names inside a burn cell's working directory.
const (
	TAPE4  = "TAPE4.INP"
	TAPE5  = "TAPE5.INP"
	TAPE9  = "TAPE9.INP"
	TAPE10 = "TAPE10.INP"
	TAPE6  = "TAPE6.OUT"
	TAPE7  = "TAPE7.OUT"
)

// SubSteps is the number of irradiation lines in every control file.
const SubSteps = 20

// Inputs are the four files the depletion solver reads.
type Inputs struct {
	TAPE4  string
	TAPE5  string
	TAPE9  string
	TAPE10 string
}

func (in Inputs) files() map[string]string {
	return map[string]string{TAPE4: in.TAPE4, TAPE5: in.TAPE5, TAPE9: in.TAPE9, TAPE10: in.TAPE10}
}

// Write stores the inputs in dir.
func (in Inputs) Write(dir string) error {
	for name, content := range in.files() {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// CheckInputs verifies that every input file exists in dir and is not
// empty.
func CheckInputs(dir string) error {
	for _, name := range []string{TAPE4, TAPE5, TAPE9, TAPE10} {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && info.Size() > 0 {
			continue
		}
		reason := "is empty"
		if err != nil {
			reason = "does not exist"
		}
		return engine.NewPreconditionError(fmt.Sprintf("depletion input %s %s", name, reason), err).
			WithCode(engine.ErrCodeMissingSolverInput).
			WithResource(path).
			WithOperation("transmute")
	}
	return nil
}

// Files a depletion solver run reads or leaves in its directory.
var scratchFiles = []string{
	"TAPE3.INP", TAPE4, TAPE5, TAPE9, TAPE10,
	TAPE6, TAPE7, "TAPE11.OUT", "TAPE12.OUT", "TAPE13.OUT", "TAPE15.OUT", "TAPE16.OUT", "TAPE50.OUT",
	"origen",
}

// Cleanup removes the solver files from dir and then dir itself. A
// directory holding anything else is left in place.
func Cleanup(dir string) error {
	for _, name := range scratchFiles {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("dir", dir).Msg("leaving transmutation directory in place")
	}
	return nil
}

// PunchCard formats the initial inventory (TAPE4): one line per ZAm of
// each library that has moles, in ascending library order, followed by the
// terminator.
func PunchCard(libs *Libraries, zamMoles map[int]float64) string {
	var lines []string
	for _, lib := range libs.LibraryIDs() {
		for _, zam := range libs.LibraryZams[lib] {
			moles, ok := zamMoles[zam]
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("%d %d %s 0 0 0 0 0 0", lib%10, zam, formatE(moles, 9)))
		}
	}
	return strings.Join(lines, "\n") + "\n0 0 0 0"
}

// ControlFile describes one burn cell's control file (TAPE5).
type ControlFile struct {
	// LibraryIDs are the three cross-section library ids.
	LibraryIDs []int
	// PowerMode selects constant power (MWth) over constant flux.
	PowerMode bool
	// Interval is the step length in days.
	Interval float64
	// Rate is the cell power in MW or its scalar flux; zero for decay.
	Rate float64
}

// Format renders the control file.
func (c ControlFile) Format() (string, error) {
	if len(c.LibraryIDs) < 3 {
		return "", fmt.Errorf("control file needs three cross-section libraries, have %d", len(c.LibraryIDs))
	}
	mode := "IRF"
	if c.PowerMode {
		mode = "IRP"
	}
	lines := []string{
		"-1", "-1", "-1",
		"TIT",
		"BAS",
		"LIP    1 1 0",
		fmt.Sprintf("LIB    0 1 2 3 -%d -%d -%d 9 50 0 4 0", c.LibraryIDs[0], c.LibraryIDs[1], c.LibraryIDs[2]),
		"OPTL   8 8 8 8 8  8 8 8 8 8  8 8 8 8 8  8 8 8 5 8  5 8 8 8",
		"OPTA   8 8 8 8 8  8 8 8 8 8  8 8 8 8 8  8 8 8 5 8  5 8 8 8",
		"OPTF   8 8 8 8 8  8 8 8 8 8  8 8 8 8 8  8 8 8 5 8  5 8 8 8",
		"CUT    3 1.0E-24 28 1.0E-75 -1",
		"INP    1 -2 0 0 1 1",
		"BUP",
	}
	// Vectors cycle through eleven storage slots; the first line also
	// names the initial inventory.
	for i := 0; i < SubSteps; i++ {
		from, to := i+1, i+2
		switch {
		case i == 10:
			from, to = 11, 1
		case i > 10:
			from, to = i-10, i-9
		}
		flag := 0
		if i == 0 {
			flag = 2
		}
		end := c.Interval * float64(i+1) / SubSteps
		lines = append(lines, fmt.Sprintf("%s    %s %s %2d %2d 4 %d", mode, formatE(end, 5), formatE(c.Rate, 5), from, to, flag))
	}
	lines = append(lines, "BUP", "PCH    10 10 10", "OUT    10 1 0 0", "STP    4")

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("0")
	return b.String(), nil
}

// MicroKey identifies a one-group cross section by ZAm and reaction.
type MicroKey struct {
	Zam int
	MT  int
}

// Micros maps (ZAm, reaction) to a one-group cross section in barns.
type Micros map[MicroKey]float64

// Zams returns the set of ZAms with at least one cross section.
func (m Micros) Zams() map[int]bool {
	out := make(map[int]bool)
	for k := range m {
		out[k.Zam] = true
	}
	return out
}

// CrossSectionLine formats one library line for zam. The first two
// reactions are split into ground and excited products by excited.
func CrossSectionLine(lib, zam int, micros Micros, excited [2]float64) (string, error) {
	mts, err := GroupMTs(lib)
	if err != nil {
		return "", err
	}
	sigma := func(i int) float64 { return micros[MicroKey{zam, mts[i]}] }
	values := []float64{
		(1 - excited[0]) * sigma(0),
		(1 - excited[1]) * sigma(1),
		sigma(2),
		sigma(3),
		excited[0] * sigma(0),
		excited[1] * sigma(1),
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%3d %7d", lib, zam)
	for _, v := range values {
		b.WriteString(" ")
		b.WriteString(formatE(v, 4))
	}
	b.WriteString(" -1")
	return b.String(), nil
}

// Library returns a TAPE9: the default decay library followed by the
// cross-section library with the lines of every ZAm in micros rewritten.
// Empty micros leave the cross-section library untouched.
func (l *Libraries) Library(micros Micros) (string, error) {
	if len(micros) == 0 {
		return l.Decay + l.Xs, nil
	}
	zams := micros.Zams()
	lines := strings.Split(l.Xs, "\n")
	for i, line := range lines {
		m := xsLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		zam := int(parseNumber(m[2]))
		if !zams[zam] {
			continue
		}
		lib, _ := strconv.Atoi(m[1])
		rewritten, err := CrossSectionLine(lib, zam, micros, l.Excited[lib][zam])
		if err != nil {
			return "", err
		}
		lines[i] = rewritten
	}
	return l.Decay + strings.Join(lines, "\n"), nil
}

// formatE formats v like a C "%.{digits}E" conversion, which always carries
// at least two exponent digits.
func formatE(v float64, digits int) string {
	return strconv.FormatFloat(v, 'E', digits, 64)
}
