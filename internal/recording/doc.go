// Package recording implements the recording state machine. A recording
// moves INITIALIZING -> RECORDING -> STOPPING -> COMPLETED, or to ERROR on
// failure. The database enforces the one-active-recording-per-user limit;
// the in-memory map only routes live audio and transcript callbacks to the
// right assembler. Stop is idempotent and safe under concurrency, and stale
// rows left behind by a crash are cleaned up when the user reconnects.
package recording
