// Package config loads the configuration of a MocDown run.
//
// Settings are layered: the built-in defaults, then a configuration file,
// then MOCDOWN_* environment variables. YAML and JSON files map directly
// onto Config; any other file is read as a legacy "key = value" input whose
// keys are translated to their configuration paths.
//
//	depletion:
//	  burn_cells: [10, 11]
//	  step_time_intervals: [30, 60]
//	  step_powers: [3.4, 3.4]
//	transmute:
//	  executable: /usr/local/ORIGEN/bin/o2_thermal
//
// The merged settings are checked against a JSON schema, the decoded
// struct against its validate tags, and the schedule for consistency.
// Unknown keys are rejected with the nearest known key as a suggestion.
package config
