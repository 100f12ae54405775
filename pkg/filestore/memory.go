package filestore

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the default in-process file store. Files live for the
// lifetime of the server process.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*storedEntry
}

type storedEntry struct {
	meta    FileMeta
	owner   string
	content string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]*storedEntry)}
}

// newStorageKey builds a collision-free key of the form
// "<unix-seconds>_<hex>_<filename>". The prefix is stripped for display.
func newStorageKey(filename string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d_%s_%s", time.Now().Unix(), hex, filename)
}

func (s *MemoryStore) UploadFile(_ context.Context, userEmail, filename, contentBase64, sourceType string, tags []string) (*FileMeta, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	decoded, err := base64.StdEncoding.DecodeString(contentBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding file content for %s: %w", filename, err)
	}

	contentType := mime.TypeByExtension("." + GetFileExtension(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	meta := FileMeta{
		Key:          newStorageKey(filename),
		Filename:     filename,
		ContentType:  contentType,
		Size:         int64(len(decoded)),
		LastModified: time.Now().UTC().Format(time.RFC3339),
		Source:       sourceType,
		Tags:         tags,
	}

	s.mu.Lock()
	s.files[meta.Key] = &storedEntry{meta: meta, owner: userEmail, content: contentBase64}
	s.mu.Unlock()
	return &meta, nil
}

func (s *MemoryStore) GetFile(_ context.Context, userEmail, key string) (*StoredFile, error) {
	s.mu.RLock()
	entry, ok := s.files[key]
	s.mu.RUnlock()
	if !ok || entry.owner != userEmail {
		return nil, fmt.Errorf("file %q not found", key)
	}
	return &StoredFile{FileMeta: entry.meta, ContentBase64: entry.content}, nil
}

func (s *MemoryStore) DeleteFile(_ context.Context, userEmail, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.files[key]
	if !ok || entry.owner != userEmail {
		return fmt.Errorf("file %q not found", key)
	}
	delete(s.files, key)
	return nil
}
