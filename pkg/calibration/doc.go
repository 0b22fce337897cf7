// Package calibration drives the exposure/sensitivity search. It contains:
//
//   - Phase: the discrete steps of the calibration state machine
//   - Options: channel order, iteration counts, ranges, seeds and delays
//   - Controller: the search driver, with its own control and evaluation
//     goroutines
//   - Status and Result: views returned by the daemon's HTTP API and printed
//     by the CLI
//
// These types are shared across daemon, client and CLI code to keep JSON
// contracts consistent.
package calibration
