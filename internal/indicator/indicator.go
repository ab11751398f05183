// Package indicator computes the MACD oscillator and derives crossover
// signals from it.
//
// Everything here is pure: functions allocate their results and never mutate
// their inputs, so an Engine can be shared across goroutines and instruments.
package indicator
