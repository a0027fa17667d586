package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mocdown/mocdown/pkg/engine"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	want := Default()
	if diff := cmp.Diff(want.Depletion, cfg.Depletion, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("depletion defaults mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, want.Libraries, cfg.Libraries)
	assert.Equal(t, want.Transport.Command, cfg.Transport.Command)
	assert.Equal(t, want.Telemetry.Tracing.ExportTimeout, cfg.Telemetry.Tracing.ExportTimeout)
	assert.True(t, cfg.Checkpoint.Compress)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "mocdown.yaml", `
depletion:
  burn_cells: [10, 11, 12]
  step_time_intervals: [10, 20]
  step_powers: [5, 5]
  threads: 4
transmute:
  executable: /opt/origen/o2_thermal
  timeout: 5m
feedback:
  parameters:
    coolant_inlet_temperature: 560
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 11, 12}, cfg.Depletion.BurnCells)
	assert.Equal(t, []float64{10, 20}, cfg.Depletion.StepTimeIntervals)
	assert.True(t, cfg.Depletion.PowerMode())
	assert.Equal(t, 4, cfg.Depletion.Threads)
	assert.True(t, cfg.Transmute.IsOrigen2())
	assert.Equal(t, "5m0s", cfg.Transmute.Timeout.String())
	assert.EqualValues(t, 560, cfg.Feedback.Parameters["coolant_inlet_temperature"])
	// untouched sections keep their defaults
	assert.Equal(t, Default().Libraries, cfg.Libraries)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MOCDOWN_DEPLETION_THREADS", "8")
	t.Setenv("MOCDOWN_RECYCLE_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Depletion.Threads)
	assert.True(t, cfg.Recycle.Enabled)
}

func TestLoad_Legacy(t *testing.T) {
	path := writeFile(t, "mocdown.inp", `
# core depletion
burn cells = 1..3, 7
depletion step time intervals = 3r10
depletion step powers = [1, 2, 3]
include decay heat = 0
number of origen threads = 2
q value method = MONTEBURNS2
mcnp run command = {executable} i={baseName}.i ;
origen run command = cd {} ; ./origen >> {}transmute.log
origen library path template = /libs/{}.lib
coolant inlet temperature = 560
number of predictor steps = 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 7}, cfg.Depletion.BurnCells)
	assert.Equal(t, []float64{10, 10, 10}, cfg.Depletion.StepTimeIntervals)
	assert.Equal(t, []float64{1, 2, 3}, cfg.Depletion.StepPowers)
	assert.False(t, cfg.Depletion.IncludeDecayHeat)
	assert.Equal(t, 2, cfg.Depletion.Threads)
	assert.Equal(t, "monteburns2", cfg.Depletion.QValueMethod)
	assert.Equal(t, "{executable} i={baseName}.i", cfg.Transport.Command)
	assert.Equal(t, "cd {dir} ; ./origen >> {logdir}transmute.log", cfg.Transmute.Command)
	assert.Equal(t, "/libs/%s.lib", cfg.Libraries.PathTemplate)
	assert.EqualValues(t, 560, cfg.Feedback.Parameters["coolant_inlet_temperature"])
}

func TestParseLegacy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]interface{}
		wantErr string
	}{
		{
			name:  "camel case key",
			input: "depletionTime = 100\n",
			want:  map[string]interface{}{"depletion.time": 100.0},
		},
		{
			name:  "comments and blank lines",
			input: "# nothing\n\nforce decay transport = True # trailing\n",
			want:  map[string]interface{}{"depletion.force_decay_transport": true},
		},
		{
			name:  "feedback parameters",
			input: "coolantFlowLengths = 2r1.5\n",
			want: map[string]interface{}{
				"feedback.parameters": map[string]interface{}{"coolant_flow_lengths": []float64{1.5, 1.5}},
			},
		},
		{
			name:    "typo",
			input:   "burn cels = 1\n",
			wantErr: `did you mean "burnCells"`,
		},
		{
			name:    "bad number",
			input:   "depletion power = lots\n",
			wantErr: "line 1: depletionPower",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLegacy(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseLegacy() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "mocdown.yaml", "depletion:\n  treads: 2\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))
	assert.Contains(t, err.Error(), `did you mean "depletion.threads"`)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"powers and fluxes", "depletion:\n  step_powers: [1]\n  step_fluxes: [1]\n  step_time_intervals: [1]\n", "exclusive"},
		{"power and flux", "depletion:\n  power: 1\n  flux: 1\n", "exclusive"},
		{"intervals and time", "depletion:\n  step_time_intervals: [1]\n  time: 10\n", "total time"},
		{"length mismatch", "depletion:\n  step_time_intervals: [1, 2]\n  step_powers: [1]\n", "2 time intervals"},
		{"bad q method", "depletion:\n  q_value_method: guess\n", "q_value_method"},
		{"bad template", "libraries:\n  path_template: /libs/lib\n", "path_template"},
		{"negative power", "depletion:\n  power: -1\n", "power"},
		{"bad log level", "telemetry:\n  logging:\n    level: loud\n", "Level"},
		{"remote without auth", "transport:\n  remote:\n    host: hpc\n    user: me\n    known_hosts: /k\n", "key file or a password"},
		{"remote without known hosts", "transport:\n  remote:\n    host: hpc\n    user: me\n    password: pw\n", "known hosts"},
		{"remote without user", "transport:\n  remote:\n    host: hpc\n    password: pw\n    insecure_ignore_host_key: true\n", "User"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", tt.yaml))
			require.Error(t, err)
			assert.True(t, engine.IsPermanent(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_Remote(t *testing.T) {
	path := writeFile(t, "c.yaml", `transport:
  remote:
    host: hpc.example.org
    user: me
    key_file: /home/me/.ssh/id_ed25519
    known_hosts: /home/me/.ssh/known_hosts
    connect_timeout: 10s
    xsdir: /scratch/xsdir
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	r := cfg.Transport.Remote
	assert.True(t, r.Enabled())
	assert.Equal(t, 22, r.Port)
	assert.Equal(t, 10*time.Second, r.ConnectTimeout)
	assert.Equal(t, "mocdown", r.WorkDir)
	assert.Equal(t, "/scratch/xsdir", r.XsDir)
	assert.False(t, Default().Transport.Remote.Enabled())
}

func TestConfigYAML(t *testing.T) {
	cfg := Default()
	cfg.Depletion.BurnCells = []int{4, 5}
	out, err := cfg.YAML()
	require.NoError(t, err)

	var tree map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &tree))
	assert.Equal(t, []interface{}{4, 5}, tree["depletion"]["burn_cells"])
	assert.Equal(t, "origens", tree["depletion"]["q_value_method"])

	path := writeFile(t, "dump.yaml", string(out))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Depletion.BurnCells, back.Depletion.BurnCells)
}

func TestSchemaRegistry(t *testing.T) {
	sr := NewSchemaRegistry()
	assert.Equal(t, []string{SchemaConfig}, sr.ListSchemas())

	require.NoError(t, sr.RegisterSchema("cells", `{"type": "array", "items": {"type": "integer"}}`))
	assert.NoError(t, sr.Validate("cells", []interface{}{1.0, 2.0}))
	assert.Error(t, sr.Validate("cells", []interface{}{"a"}))
	assert.Error(t, sr.Validate("missing", nil))
	assert.Error(t, sr.RegisterSchema("broken", `{"type": 12}`))
}
