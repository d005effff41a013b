// Package store persists Recording rows and enforces the one-active
// -recording-per-user invariant with a database uniqueness constraint, so a
// start is an atomic reservation rather than a check-then-insert.
package store
