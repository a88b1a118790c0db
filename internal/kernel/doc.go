// Package kernel defines the numeric kernel capability consumed by the local
// venue. A kernel assembles and solves the structural stiffness system; how it
// does so is opaque to the orchestrator, which only constructs it through a
// Factory and calls Solve.
package kernel
