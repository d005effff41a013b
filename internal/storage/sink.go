package storage

import (
	"context"
	"errors"
)

// ErrNoActiveUpload is returned by Sink operations that require an open
// upload when none exists for the given id, typically because the process
// restarted and in-memory upload state was lost. Callers recover by calling
// Begin again; bytes already durably written are preserved.
var ErrNoActiveUpload = errors.New("no active upload for recording")

// Sink abstracts the byte destination for assembled recordings. Objects are
// keyed by a per-user namespace and a recording id; the stored object name is
// {id}.wav under the namespace prefix.
//
// Begin/Append/PatchHead/Finalize operate on an open upload. Read and Delete
// address the durable object directly and work with or without an open
// upload.
type Sink interface {
	// Begin opens (or idempotently re-opens) an upload for the object.
	// Re-opening an object that already has durable bytes must preserve
	// them and position subsequent appends after the existing data.
	Begin(ctx context.Context, namespace, id string) error

	// Append writes bytes at the end of the open upload.
	Append(ctx context.Context, id string, p []byte) error

	// Size reports the number of bytes written to the open upload so far.
	Size(ctx context.Context, id string) (int64, error)

	// PatchHead overwrites exactly the first len(head) bytes in place.
	// Used to correct a speculative WAV header once the true data length
	// is known. Never rewrites the rest of the object.
	PatchHead(ctx context.Context, id string, head []byte) error

	// Finalize completes the upload and returns a retrievable reference
	// to the finished object.
	Finalize(ctx context.Context, id string) (string, error)

	// Read returns the full content of the durable object.
	Read(ctx context.Context, namespace, id string) ([]byte, error)

	// Delete removes the durable object, best-effort. Absent objects are
	// not an error.
	Delete(ctx context.Context, namespace, id string) error
}
