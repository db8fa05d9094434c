// Package storage persists calsched state: recurring events, occurrence
// overrides, reminders and documents.
//
// Drivers:
//   - "memory": process-local maps, lost on exit
//   - "sqlite": a single SQLite file (modernc.org/sqlite, no cgo)
package storage
