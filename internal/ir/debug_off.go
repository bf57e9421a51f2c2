//go:build !latticedebug

package ir

const debugChecks = false
