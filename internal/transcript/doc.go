// Package transcript accumulates final and interim speech transcript
// chunks for a recording into a single display string and a persisted
// chunk list.
package transcript
