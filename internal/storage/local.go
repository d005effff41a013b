package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// LocalSink stores recordings on the local filesystem under
// {dir}/{namespace}/{id}.wav.
type LocalSink struct {
	dir string

	mu      sync.Mutex
	uploads map[string]*localUpload
}

type localUpload struct {
	namespace string
	path      string
	file      *os.File
}

// NewLocalSink creates a filesystem-backed sink rooted at dir.
func NewLocalSink(dir string) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}
	return &LocalSink{
		dir:     dir,
		uploads: make(map[string]*localUpload),
	}, nil
}

// ObjectPath returns the filesystem path for a stored object.
func (s *LocalSink) ObjectPath(namespace, id string) string {
	return filepath.Join(s.dir, namespace, id+".wav")
}

// Begin opens an upload for the object. Calling Begin again for an already
// open upload is a no-op; re-opening after process restart keeps any bytes
// already on disk and appends after them.
func (s *LocalSink) Begin(ctx context.Context, namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, open := s.uploads[id]; open {
		return nil
	}

	path := s.ObjectPath(namespace, id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create namespace dir for %s: %w", id, err)
	}

	// O_RDWR without O_APPEND: appends go through an explicit seek so the
	// header patch via WriteAt stays legal on the same handle.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return fmt.Errorf("failed to seek %s: %w", path, err)
	}

	s.uploads[id] = &localUpload{namespace: namespace, path: path, file: file}
	return nil
}

func (s *LocalSink) upload(id string) (*localUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	up, open := s.uploads[id]
	if !open {
		return nil, fmt.Errorf("recording %s: %w", id, ErrNoActiveUpload)
	}
	return up, nil
}

// Append writes bytes at the end of the open upload.
func (s *LocalSink) Append(ctx context.Context, id string, p []byte) error {
	up, err := s.upload(id)
	if err != nil {
		return err
	}

	if _, err := up.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek %s: %w", up.path, err)
	}
	if _, err := up.file.Write(p); err != nil {
		return fmt.Errorf("failed to append to %s: %w", up.path, err)
	}
	return nil
}

// Size reports how many bytes the open upload holds.
func (s *LocalSink) Size(ctx context.Context, id string) (int64, error) {
	up, err := s.upload(id)
	if err != nil {
		return 0, err
	}

	info, err := up.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", up.path, err)
	}
	return info.Size(), nil
}

// PatchHead overwrites the first len(head) bytes of the open upload in place.
func (s *LocalSink) PatchHead(ctx context.Context, id string, head []byte) error {
	up, err := s.upload(id)
	if err != nil {
		return err
	}

	if _, err := up.file.WriteAt(head, 0); err != nil {
		return fmt.Errorf("failed to patch header of %s: %w", up.path, err)
	}
	return nil
}

// Finalize syncs and closes the upload, returning a file:// reference.
func (s *LocalSink) Finalize(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	up, open := s.uploads[id]
	if open {
		delete(s.uploads, id)
	}
	s.mu.Unlock()

	if !open {
		return "", fmt.Errorf("recording %s: %w", id, ErrNoActiveUpload)
	}

	if err := up.file.Sync(); err != nil {
		up.file.Close()
		return "", fmt.Errorf("failed to sync %s: %w", up.path, err)
	}
	if err := up.file.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", up.path, err)
	}

	abs, err := filepath.Abs(up.path)
	if err != nil {
		abs = up.path
	}
	return "file://" + abs, nil
}

// Read returns the full object content from disk.
func (s *LocalSink) Read(ctx context.Context, namespace, id string) ([]byte, error) {
	data, err := os.ReadFile(s.ObjectPath(namespace, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read recording %s: %w", id, err)
	}
	return data, nil
}

// Delete removes the object, closing any open upload first. A missing file
// is not an error.
func (s *LocalSink) Delete(ctx context.Context, namespace, id string) error {
	s.mu.Lock()
	if up, open := s.uploads[id]; open {
		up.file.Close()
		delete(s.uploads, id)
	}
	s.mu.Unlock()

	if err := os.Remove(s.ObjectPath(namespace, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete recording %s: %w", id, err)
	}
	return nil
}
