// Package engine provides the types shared by the depletion and recycle
// orchestrators: error classification, the worker pool and the run ledger
// records.
//
// # Error Classification
//
// Errors are classified so callers can decide whether to retry, fix their
// inputs or give up:
//
//   - Transient: a solver or file system failure that may succeed on retry
//   - Precondition: missing or malformed input that the user must fix
//   - Permanent: parse failures, bad configuration, non-convergence
//
// A sentinel code narrows the class, for example ErrCodeMalformedDeck or
// ErrCodeNotConverged:
//
//	if HasCode(err, ErrCodeNotConverged) {
//	    // raise the cycle cap or loosen the tolerances
//	}
//
// # Worker Pool
//
// Pool runs the per-cell transmutations with bounded parallelism. The first
// failure cancels the others and is returned; transient failures are
// retried with exponential backoff when WithRetries is set.
//
// # Run Ledger
//
// RunRecord, StepRecord and CycleRecord describe runs as they progress.
// The Ledger interface persists them; the SQLite implementation lives in
// the stores package. Recording is best effort: a ledger failure is logged
// and never fails a run.
package engine
