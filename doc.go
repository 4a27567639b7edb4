// Package ntcore provides the shared foundation for a completion-based
// networking toolkit: the error taxonomy every subpackage reports through,
// the Logger and Socket collaborator interfaces, and the default
// configuration values the simulation machine and proactor engine use.
//
// The actual subsystems live in sibling packages:
//
//   - bigint: arbitrary-precision signed integers
//   - ber: a tag/length/value codec built on bigint
//   - chronology: a timer store (scheduled + deferred)
//   - proactor: a completion-based I/O engine built on chronology
//   - machine: an in-memory simulation of a host's networking stack
//
// None of those packages import each other except along the dependency
// order above; all of them except chronology import this package for
// Error, Logger and the shared configuration defaults.
package ntcore
