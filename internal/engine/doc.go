// Package engine provides the analysis orchestrator. It selects the venue for
// each run, resolves the venue's backend via the registry, threads a per-run
// cancellation context through execution, normalizes the result, and records
// the run lifecycle and its progress in the store as it happens.
package engine
