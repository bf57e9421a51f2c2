//go:build latticedebug

package ir

// debugChecks enables internal invariant assertions.
const debugChecks = true
