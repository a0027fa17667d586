package config

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// The legacy input is a list of "key = value" lines. Keys are spaced or
// camel-cased words; "#" starts a comment.

type legacyKind int

const (
	legacyString legacyKind = iota
	legacyLower
	legacyFloat
	legacyInt
	legacyBool
	legacyCells
	legacyFloats
	legacyCommand
	legacyTemplate
)

type legacyKey struct {
	path string
	kind legacyKind
}

var legacyKeys = map[string]legacyKey{
	"burnCells":                                {"depletion.burn_cells", legacyCells},
	"depletionStepTimeIntervals":               {"depletion.step_time_intervals", legacyFloats},
	"depletionStepPowers":                      {"depletion.step_powers", legacyFloats},
	"depletionStepFluxes":                      {"depletion.step_fluxes", legacyFloats},
	"depletionPower":                           {"depletion.power", legacyFloat},
	"depletionFlux":                            {"depletion.flux", legacyFloat},
	"depletionTime":                            {"depletion.time", legacyFloat},
	"depletionTerminalDecayTime":               {"depletion.terminal_decay_time", legacyFloat},
	"minimumBurnupStep":                        {"depletion.minimum_burnup_step", legacyFloat},
	"maximumBurnupStep":                        {"depletion.maximum_burnup_step", legacyFloat},
	"minimumFluenceStep":                       {"depletion.minimum_fluence_step", legacyFloat},
	"maximumFluenceStep":                       {"depletion.maximum_fluence_step", legacyFloat},
	"minimumCellMassDensityCutoff":             {"depletion.mass_density_cutoff", legacyFloat},
	"minimumIsotopeCutoff":                     {"depletion.isotope_cutoff", legacyFloat},
	"qValueMethod":                             {"depletion.q_value_method", legacyLower},
	"includeDecayHeat":                         {"depletion.include_decay_heat", legacyBool},
	"forceDecayTransport":                      {"depletion.force_decay_transport", legacyBool},
	"numberOfOrigenThreads":                    {"depletion.threads", legacyInt},
	"defaultDecayLibrary":                      {"libraries.decay", legacyString},
	"defaultPhotonLibrary":                     {"libraries.photon", legacyString},
	"defaultXsLibrary":                         {"libraries.xs", legacyString},
	"origenLibraryPathTemplate":                {"libraries.path_template", legacyTemplate},
	"mcnpExecutablePath":                       {"transport.executable", legacyString},
	"mcnpRunCommand":                           {"transport.command", legacyCommand},
	"mcnpSourceFileName":                       {"transport.source_file", legacyString},
	"mcnpXsdirPath":                            {"transport.xsdir", legacyString},
	"origenExecutablePath":                     {"transmute.executable", legacyString},
	"origenRunCommand":                         {"transmute.command", legacyCommand},
	"compressPickles":                          {"checkpoint.compress", legacyBool},
	"recycleToEquilibrium":                     {"recycle.enabled", legacyBool},
	"isotopicsConvergenceNormType":             {"recycle.isotopics_norm", legacyLower},
	"isotopicsConvergenceTolerance":            {"recycle.isotopics_tolerance", legacyFloat},
	"multiplicationFactorConvergenceTolerance": {"recycle.keff_tolerance", legacyFloat},
	"supplementaryMocdownLibrary":              {"feedback.script", legacyString},
}

// Thermal-hydraulic keys belong to the feedback model and are passed to it
// as parameters.
var feedbackKeys = map[string]legacyKind{
	"assemblyFuelsToCools":                 legacyString,
	"coolantBypassCells":                   legacyCells,
	"coolantDensityDampingCoefficient":     legacyFloat,
	"coolantFlowArea":                      legacyFloat,
	"coolantFlowLengths":                   legacyFloats,
	"coolantHeatedDiameter":                legacyFloat,
	"coolantHydraulicDiameter":             legacyFloat,
	"coolantInletPressure":                 legacyFloat,
	"coolantInletTemperature":              legacyFloat,
	"coolantMassFlowRate":                  legacyFloat,
	"criticalPowerRatioCorrelation":        legacyLower,
	"criticalPowerRatioFallbackIndex":      legacyInt,
	"criticalPowerRatioLimit":              legacyFloat,
	"pressureDropCorrelation":              legacyLower,
	"thermalHydraulicConvergenceNormType":  legacyLower,
	"thermalHydraulicConvergenceTolerance": legacyFloat,
	"updateCoolantDensities":               legacyBool,
	"updateFuelTemperatures":               legacyBool,
	"voidFractionCorrelation":              legacyLower,
}

// Predictor/corrector stepping is not supported; the keys are accepted so
// old inputs still load.
var ignoredKeys = map[string]bool{
	"numberOfPredictorSteps": true,
	"numberOfCorrectorSteps": true,
}

var legacyComment = regexp.MustCompile(`\s*#.*`)

// ParseLegacy reads a legacy "key = value" input into a settings map keyed
// by dotted configuration paths.
func ParseLegacy(r io.Reader) (map[string]interface{}, error) {
	settings := make(map[string]interface{})
	params := make(map[string]interface{})

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := legacyComment.ReplaceAllString(strings.TrimSpace(scanner.Text()), "")
		if line == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(line, "=")
		key := camelKey(rawKey)
		if key == "" {
			return nil, fmt.Errorf("line %d: missing key", lineNo)
		}

		if ignoredKeys[key] {
			log.Warn().Str("key", key).Msg("ignoring unsupported legacy parameter")
			continue
		}

		if kind, ok := feedbackKeys[key]; ok {
			v, err := convertLegacy(rawValue, kind)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
			}
			params[snakeKey(key)] = v
			continue
		}

		spec, ok := legacyKeys[key]
		if !ok {
			return nil, unknownKeyError(key, legacyKeyNames())
		}
		v, err := convertLegacy(rawValue, spec.kind)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
		}
		settings[spec.path] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read legacy input: %w", err)
	}
	if len(params) > 0 {
		settings["feedback.parameters"] = params
	}
	return settings, nil
}

// camelKey turns "burn cells" or "BurnCells" into "burnCells".
func camelKey(raw string) string {
	words := strings.Fields(raw)
	if len(words) == 0 {
		return ""
	}
	if len(words) == 1 {
		w := words[0]
		return strings.ToLower(w[:1]) + w[1:]
	}
	var b strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		if i > 0 {
			w = strings.ToUpper(w[:1]) + w[1:]
		}
		b.WriteString(w)
	}
	return b.String()
}

// snakeKey turns "coolantFlowArea" into "coolant_flow_area".
func snakeKey(key string) string {
	var b strings.Builder
	for i, r := range key {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// legacyValues splits a value on whitespace and commas, dropping brackets.
func legacyValues(raw string) []string {
	var out []string
	for _, field := range strings.Fields(raw) {
		for _, part := range strings.Split(field, ",") {
			part = strings.Trim(part, "[,];")
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func convertLegacy(raw string, kind legacyKind) (interface{}, error) {
	switch kind {
	case legacyCells:
		var cells []int
		for _, v := range legacyValues(raw) {
			if lo, hi, ok := strings.Cut(v, ".."); ok {
				from, err := strconv.ParseFloat(lo, 64)
				if err != nil {
					return nil, fmt.Errorf("bad range %q", v)
				}
				to, err := strconv.ParseFloat(hi, 64)
				if err != nil {
					return nil, fmt.Errorf("bad range %q", v)
				}
				for c := int(from); c <= int(to); c++ {
					cells = append(cells, c)
				}
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a cell number", v)
			}
			cells = append(cells, int(f))
		}
		return cells, nil
	case legacyFloats:
		var out []float64
		for _, v := range legacyValues(raw) {
			// "3r2.5" repeats 2.5 three times.
			if n, x, ok := strings.Cut(v, "r"); ok {
				times, err1 := strconv.ParseFloat(n, 64)
				f, err2 := strconv.ParseFloat(x, 64)
				if err1 != nil || err2 != nil {
					return nil, fmt.Errorf("bad repeat %q", v)
				}
				for i := 0; i < int(times); i++ {
					out = append(out, f)
				}
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", v)
			}
			out = append(out, f)
		}
		return out, nil
	case legacyCommand:
		return legacyCommandTemplate(strings.Trim(strings.TrimSpace(raw), " ;")), nil
	}

	value := strings.Join(strings.Fields(raw), "")
	switch kind {
	case legacyFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", value)
		}
		return f, nil
	case legacyInt:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", value)
		}
		return int(f), nil
	case legacyBool:
		n, err := strconv.Atoi(value)
		if err != nil {
			b, berr := strconv.ParseBool(value)
			if berr != nil {
				return nil, fmt.Errorf("%q is not a flag", value)
			}
			return b, nil
		}
		return n != 0, nil
	case legacyLower:
		return strings.ToLower(value), nil
	case legacyTemplate:
		return strings.Replace(value, "{}", "%s", 1), nil
	}
	return value, nil
}

// legacyCommandTemplate rewrites positional "{}" placeholders: the first
// names the working directory, the second the run directory.
func legacyCommandTemplate(command string) string {
	for _, name := range []string{"{dir}", "{logdir}"} {
		command = strings.Replace(command, "{}", name, 1)
	}
	return command
}

func legacyKeyNames() []string {
	names := make([]string, 0, len(legacyKeys)+len(feedbackKeys))
	for k := range legacyKeys {
		names = append(names, k)
	}
	for k := range feedbackKeys {
		names = append(names, k)
	}
	return names
}
