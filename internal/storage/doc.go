// Package storage abstracts the byte destination for assembled recordings
// behind the Sink interface, with interchangeable local filesystem and
// Supabase object storage implementations.
package storage
