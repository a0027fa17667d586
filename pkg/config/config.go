package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/mocdown/mocdown/pkg/telemetry"
)

// Config is the complete configuration of a MocDown run. It is loaded once
// and handed to every component that needs it.
type Config struct {
	// Depletion holds the schedule and the coupling parameters.
	Depletion DepletionConfig `mapstructure:"depletion" yaml:"depletion"`

	// Libraries names the default depletion-solver libraries.
	Libraries LibrariesConfig `mapstructure:"libraries" yaml:"libraries"`

	// Transport configures the transport solver.
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Transmute configures the depletion solver.
	Transmute SolverConfig `mapstructure:"transmute" yaml:"transmute"`

	// Feedback selects the density/temperature feedback model.
	Feedback FeedbackConfig `mapstructure:"feedback" yaml:"feedback"`

	// Recycle holds the equilibrium search parameters.
	Recycle RecycleConfig `mapstructure:"recycle" yaml:"recycle"`

	// Checkpoint controls the per-step snapshots.
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`

	// Store configures the run ledger.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`
}

// DepletionConfig describes what is burned, for how long and how hard.
type DepletionConfig struct {
	// BurnCells are the cells whose inventories are depleted.
	BurnCells []int `mapstructure:"burn_cells" yaml:"burn_cells" validate:"dive,gt=0"`

	// StepTimeIntervals are explicit step lengths in days.
	StepTimeIntervals []float64 `mapstructure:"step_time_intervals" yaml:"step_time_intervals" validate:"dive,gte=0"`

	// StepPowers are per-step powers in MWth.
	StepPowers []float64 `mapstructure:"step_powers" yaml:"step_powers" validate:"dive,gte=0"`

	// StepFluxes are per-step fluxes in n/cm²·s.
	StepFluxes []float64 `mapstructure:"step_fluxes" yaml:"step_fluxes" validate:"dive,gte=0"`

	// Power is a single power in MWth for every step.
	Power float64 `mapstructure:"power" yaml:"power" validate:"gte=0"`

	// Flux is a single flux in n/cm²·s for every step.
	Flux float64 `mapstructure:"flux" yaml:"flux" validate:"gte=0"`

	// Time is a total depletion time in days split into doubling steps.
	Time float64 `mapstructure:"time" yaml:"time" validate:"gte=0"`

	// TerminalDecayTime appends a zero-rate step of this many years.
	TerminalDecayTime float64 `mapstructure:"terminal_decay_time" yaml:"terminal_decay_time" validate:"gte=0"`

	MinimumBurnupStep  float64 `mapstructure:"minimum_burnup_step" yaml:"minimum_burnup_step" validate:"gt=0"`   // MWd/MTHM
	MaximumBurnupStep  float64 `mapstructure:"maximum_burnup_step" yaml:"maximum_burnup_step" validate:"gt=0"`   // MWd/MTHM
	MinimumFluenceStep float64 `mapstructure:"minimum_fluence_step" yaml:"minimum_fluence_step" validate:"gt=0"` // n/cm²
	MaximumFluenceStep float64 `mapstructure:"maximum_fluence_step" yaml:"maximum_fluence_step" validate:"gt=0"` // n/cm²

	// MassDensityCutoff is the g/cm³ below which a cell is not a power cell.
	MassDensityCutoff float64 `mapstructure:"mass_density_cutoff" yaml:"mass_density_cutoff" validate:"gte=0"`

	// IsotopeCutoff drops burned isotopes whose fractions stay below it.
	IsotopeCutoff float64 `mapstructure:"isotope_cutoff" yaml:"isotope_cutoff" validate:"gte=0"`

	// QValueMethod selects the Q tables of reported cell powers.
	QValueMethod string `mapstructure:"q_value_method" yaml:"q_value_method" validate:"oneof=mcnp monteburns2 origen2 mocup imocup origens"`

	// IncludeDecayHeat counts decay heat toward the normalization power.
	IncludeDecayHeat bool `mapstructure:"include_decay_heat" yaml:"include_decay_heat"`

	// ForceDecayTransport runs the transport solver on decay steps too.
	ForceDecayTransport bool `mapstructure:"force_decay_transport" yaml:"force_decay_transport"`

	// MaxFeedbackIterations caps the transport/feedback fixed point.
	MaxFeedbackIterations int `mapstructure:"max_feedback_iterations" yaml:"max_feedback_iterations" validate:"gte=1"`

	// Threads bounds concurrent depletion-solver runs.
	Threads int `mapstructure:"threads" yaml:"threads" validate:"gte=1"`

	// Seed drives the choice of free material numbers; zero picks one.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// PowerMode reports whether steps are driven by power rather than flux.
func (c DepletionConfig) PowerMode() bool {
	return len(c.StepPowers) > 0 || c.Power > 0
}

// LibrariesConfig locates the default decay, photon and cross-section
// libraries of the depletion solver.
type LibrariesConfig struct {
	// PathTemplate holds one %s receiving the library name.
	PathTemplate string `mapstructure:"path_template" yaml:"path_template" validate:"required"`

	Decay  string `mapstructure:"decay" yaml:"decay" validate:"required"`
	Photon string `mapstructure:"photon" yaml:"photon" validate:"required"`
	Xs     string `mapstructure:"xs" yaml:"xs" validate:"required"`
}

// SolverConfig describes one external executable.
type SolverConfig struct {
	// Executable is the solver binary.
	Executable string `mapstructure:"executable" yaml:"executable" validate:"required"`

	// Command is a shell command with {name} placeholders.
	Command string `mapstructure:"command" yaml:"command" validate:"required"`

	// Timeout bounds one run; zero waits forever.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`

	// Env is added to the inherited environment.
	Env map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// IsOrigen2 reports whether the executable is one of the ORIGEN2 builds,
// whose Q values differ from the ORIGEN-S ones.
func (c SolverConfig) IsOrigen2() bool {
	base := filepath.Base(c.Executable)
	return strings.Contains(base, "o2_fast") || strings.Contains(base, "o2_thermal")
}

// TransportConfig adds what only the transport solver needs.
type TransportConfig struct {
	SolverConfig `mapstructure:",squash" yaml:",inline"`

	// XsDir is the cross-section directory file.
	XsDir string `mapstructure:"xsdir" yaml:"xsdir"`

	// SourceFile, when present, is copied to <base>.src before each run.
	SourceFile string `mapstructure:"source_file" yaml:"source_file"`

	// Remote runs the transport solver on a compute host over SSH.
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`
}

// RemoteConfig locates a compute host for the transport solver. An empty
// Host keeps the solver local.
type RemoteConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
	User string `mapstructure:"user" yaml:"user" validate:"required_with=Host"`

	// KeyFile is a private key; when empty, Password is used.
	KeyFile       string `mapstructure:"key_file" yaml:"key_file"`
	KeyPassphrase string `mapstructure:"key_passphrase" yaml:"key_passphrase"`
	Password      string `mapstructure:"password" yaml:"password"`

	// KnownHosts verifies the host key. InsecureIgnoreHostKey accepts any
	// key instead and is meant for test hosts.
	KnownHosts            string `mapstructure:"known_hosts" yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" validate:"gte=0"`

	// WorkDir holds one directory per local run directory.
	WorkDir string `mapstructure:"workdir" yaml:"workdir" validate:"required_with=Host"`

	// Executable and XsDir replace the local paths on the compute host
	// when set.
	Executable string `mapstructure:"executable" yaml:"executable"`
	XsDir      string `mapstructure:"xsdir" yaml:"xsdir"`
}

// Enabled reports whether a compute host is configured.
func (c RemoteConfig) Enabled() bool {
	return c.Host != ""
}

// IsLesser reports whether the executable predates the eight-digit material
// numbers of later transport codes.
func (c TransportConfig) IsLesser() bool {
	for _, modern := range []string{"MCNP5-1.60", "MCNP6", "MCNPX", "m1537", "mcnp6"} {
		if strings.Contains(c.Executable, modern) {
			return false
		}
	}
	return true
}

// FeedbackConfig selects the feedback model.
type FeedbackConfig struct {
	// Script is a Starlark feedback model; empty means no feedback.
	Script string `mapstructure:"script" yaml:"script"`

	// Parameters are handed to the script unchanged.
	Parameters map[string]interface{} `mapstructure:"parameters" yaml:"parameters,omitempty"`
}

// RecycleConfig holds the equilibrium search parameters.
type RecycleConfig struct {
	// Enabled runs a recycle instead of a single depletion.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// IsotopicsNorm reduces per-isotope differences: 1, 2 or inf.
	IsotopicsNorm string `mapstructure:"isotopics_norm" yaml:"isotopics_norm" validate:"oneof=1 one 2 two inf infinite infinity"`

	IsotopicsTolerance float64 `mapstructure:"isotopics_tolerance" yaml:"isotopics_tolerance" validate:"gt=0"`
	KeffTolerance      float64 `mapstructure:"keff_tolerance" yaml:"keff_tolerance" validate:"gt=0"`

	// MaxCycles caps the number of cycles.
	MaxCycles int `mapstructure:"max_cycles" yaml:"max_cycles" validate:"gte=1"`

	// FuelScript is a Starlark fuel processor; empty carries the
	// end-of-cycle deck over unchanged.
	FuelScript string `mapstructure:"fuel_script" yaml:"fuel_script"`

	// FuelParameters are handed to the fuel script unchanged.
	FuelParameters map[string]interface{} `mapstructure:"fuel_parameters" yaml:"fuel_parameters,omitempty"`
}

// CheckpointConfig controls the per-step snapshots.
type CheckpointConfig struct {
	// Compress writes zstd-compressed checkpoints.
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// StoreConfig configures the run ledger.
type StoreConfig struct {
	// Path is the SQLite database; empty disables the ledger.
	Path string `mapstructure:"path" yaml:"path"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		Depletion: DepletionConfig{
			MinimumBurnupStep:     2e2,
			MaximumBurnupStep:     5e3,
			MinimumFluenceStep:    3e20,
			MaximumFluenceStep:    8e21,
			MassDensityCutoff:     1e-3,
			IsotopeCutoff:         1e-8,
			QValueMethod:          "origens",
			IncludeDecayHeat:      true,
			MaxFeedbackIterations: 10,
			Threads:               1,
		},
		Libraries: LibrariesConfig{
			PathTemplate: "/usr/local/ORIGEN/libs/%s.lib",
			Decay:        "decay",
			Photon:       "gxuo2brm",
			Xs:           "pwru50",
		},
		Transport: TransportConfig{
			SolverConfig: SolverConfig{
				Executable: "/usr/local/LANL/MCNP6/bin/mcnp6",
				Command:    "{executable} tasks 6 i={baseName}.i o={baseName}.o r={baseName}.tpe s={baseName}.src x={xsdir} >> transport.log 2>&1",
			},
			XsDir:      "/usr/local/LANL/MCNP_BINDATA/xsdir",
			SourceFile: "source",
			Remote: RemoteConfig{
				Port:           22,
				ConnectTimeout: 30 * time.Second,
				WorkDir:        "mocdown",
			},
		},
		Transmute: SolverConfig{
			Executable: "/usr/local/ORIGEN/bin/o2_fast",
			Command:    "./origen >> {logdir}transmute.log 2>&1",
		},
		Recycle: RecycleConfig{
			IsotopicsNorm:      "inf",
			IsotopicsTolerance: 1e-5,
			KeffTolerance:      100e-5,
			MaxCycles:          20,
		},
		Checkpoint: CheckpointConfig{Compress: true},
		Store:      StoreConfig{Path: "mocdown.db"},
		Telemetry:  *tel,
	}
}
