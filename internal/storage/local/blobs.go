package local

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/yargevad/filepathx"
)

const blobExt = ".bin"

// BlobStore holds project file payloads as content-addressed files, so
// rows stay small and identical uploads are stored once.
type BlobStore struct {
	dir string
}

func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Put stores data and returns its content address. Storing the same bytes
// twice is a no-op returning the same ref.
func (b *BlobStore) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])

	path := b.path(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return ref, nil
}

func (b *BlobStore) Get(ref string) ([]byte, error) {
	data, err := os.ReadFile(b.path(ref))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}

// Remove unlinks a blob. Missing blobs are not an error.
func (b *BlobStore) Remove(ref string) error {
	if err := os.Remove(b.path(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob %s: %w", ref, err)
	}
	return nil
}

// Sweep unlinks blobs whose ref is not in inUse and returns how many were
// removed. Run at startup to reclaim space after interrupted deletes.
func (b *BlobStore) Sweep(inUse map[string]bool) (int, error) {
	matches, err := filepathx.Glob(filepath.Join(b.dir, "**", "*"+blobExt))
	if err != nil {
		return 0, fmt.Errorf("glob blobs: %w", err)
	}

	removed := 0
	for _, match := range matches {
		ref := strings.TrimSuffix(filepath.Base(match), blobExt)
		if inUse[ref] {
			continue
		}
		if err := os.Remove(match); err != nil {
			log.Printf("blob sweep: remove %s: %v", match, err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (b *BlobStore) path(ref string) string {
	return filepath.Join(b.dir, ref+blobExt)
}
