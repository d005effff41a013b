package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/supabase-community/supabase-go"
)

// SupabaseConfig contains the Supabase storage connection parameters.
type SupabaseConfig struct {
	URL      string
	APIKey   string
	Bucket   string
	SpoolDir string
}

// SupabaseSink streams recording bytes into a local spool file and uploads
// the finished object to a Supabase storage bucket on Finalize. Object
// stores offer no partial writes, so the incremental append/patch phase runs
// against the spool; only the completed WAV leaves the machine.
type SupabaseSink struct {
	client *supabase.Client
	bucket string
	spool  *LocalSink

	mu         sync.Mutex
	namespaces map[string]string // id -> namespace for open uploads
}

// NewSupabaseSink creates a Supabase-backed sink with a local spool.
func NewSupabaseSink(cfg SupabaseConfig) (*SupabaseSink, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	spool, err := NewLocalSink(cfg.SpoolDir)
	if err != nil {
		return nil, err
	}

	return &SupabaseSink{
		client:     client,
		bucket:     cfg.Bucket,
		spool:      spool,
		namespaces: make(map[string]string),
	}, nil
}

func objectKey(namespace, id string) string {
	return path.Join(namespace, id+".wav")
}

// Begin opens a spool upload for the object.
func (s *SupabaseSink) Begin(ctx context.Context, namespace, id string) error {
	if err := s.spool.Begin(ctx, namespace, id); err != nil {
		return err
	}

	s.mu.Lock()
	s.namespaces[id] = namespace
	s.mu.Unlock()
	return nil
}

// Append writes bytes at the end of the spool upload.
func (s *SupabaseSink) Append(ctx context.Context, id string, p []byte) error {
	return s.spool.Append(ctx, id, p)
}

// Size reports how many bytes the spool upload holds.
func (s *SupabaseSink) Size(ctx context.Context, id string) (int64, error) {
	return s.spool.Size(ctx, id)
}

// PatchHead overwrites the first len(head) bytes of the spool upload.
func (s *SupabaseSink) PatchHead(ctx context.Context, id string, head []byte) error {
	return s.spool.PatchHead(ctx, id, head)
}

// Finalize completes the spool file and uploads it to the bucket, returning
// the bucket's public URL for the object.
func (s *SupabaseSink) Finalize(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	namespace, open := s.namespaces[id]
	if open {
		delete(s.namespaces, id)
	}
	s.mu.Unlock()

	if !open {
		return "", fmt.Errorf("recording %s: %w", id, ErrNoActiveUpload)
	}

	if _, err := s.spool.Finalize(ctx, id); err != nil {
		return "", err
	}

	spoolPath := s.spool.ObjectPath(namespace, id)
	file, err := os.Open(spoolPath)
	if err != nil {
		return "", fmt.Errorf("failed to open spool file %s: %w", spoolPath, err)
	}
	defer file.Close()

	key := objectKey(namespace, id)
	if _, err := s.client.Storage.UploadFile(s.bucket, key, file); err != nil {
		return "", fmt.Errorf("failed to upload %s to bucket %s: %w", key, s.bucket, err)
	}

	return s.client.Storage.GetPublicUrl(s.bucket, key).SignedURL, nil
}

// Read returns the object content, preferring the local spool copy and
// falling back to a bucket download when the spool no longer has it.
func (s *SupabaseSink) Read(ctx context.Context, namespace, id string) ([]byte, error) {
	if data, err := s.spool.Read(ctx, namespace, id); err == nil {
		return data, nil
	}

	data, err := s.client.Storage.DownloadFile(s.bucket, objectKey(namespace, id))
	if err != nil {
		return nil, fmt.Errorf("failed to download recording %s: %w", id, err)
	}
	return data, nil
}

// Delete removes the spool copy and the bucket object, best-effort.
func (s *SupabaseSink) Delete(ctx context.Context, namespace, id string) error {
	s.mu.Lock()
	delete(s.namespaces, id)
	s.mu.Unlock()

	if err := s.spool.Delete(ctx, namespace, id); err != nil {
		return err
	}

	// Bucket removal is best-effort: the object may never have been
	// uploaded if the recording failed before Finalize.
	if _, err := s.client.Storage.RemoveFile(s.bucket, []string{objectKey(namespace, id)}); err != nil {
		return nil
	}
	return nil
}
