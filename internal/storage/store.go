package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrInvalidKey is returned for keys that would escape the store root.
var ErrInvalidKey = errors.New("invalid storage key")

// Store saves and serves uploaded documents by key.
type Store interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// DocumentKey names the stored file for one slot of a link. The directory is
// derived from the token hash so the token itself never lands on disk.
func DocumentKey(token, slot, ext string) string {
	sum := sha256.Sum256([]byte(token))
	return path.Join(hex.EncodeToString(sum[:])[:32], slot+strings.ToLower(ext))
}

// CleanKey normalises key and rejects traversal or absolute paths.
func CleanKey(key string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(key, "\\", "/"))
	if clean == "." || strings.HasPrefix(clean, "..") || strings.HasPrefix(clean, "/") {
		return "", ErrInvalidKey
	}
	return clean, nil
}
