package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when no blob exists at the given path
var ErrNotFound = errors.New("blob not found")

// ErrInvalidPath is returned for paths that escape the store
var ErrInvalidPath = errors.New("invalid blob path")

// BlobStore persists opaque document bytes. Paths are relative and are the
// only reference the rest of the system keeps.
type BlobStore interface {
	Put(ctx context.Context, subDir, filename string, data []byte) (string, error)
	Get(ctx context.Context, relativePath string) ([]byte, error)
	Delete(ctx context.Context, relativePath string) error
}

// objectKey builds "<subDir>/<yyyy>/<mm>/<random><ext>"
func objectKey(subDir, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(subDir, time.Now().Format("2006/01"), generateID()+ext)
}

// cleanPath rejects absolute paths and parent traversal.
func cleanPath(relativePath string) (string, error) {
	p := path.Clean(strings.ReplaceAll(relativePath, "\\", "/"))
	if p == "." || p == "" || strings.HasPrefix(p, "/") || p == ".." || strings.HasPrefix(p, "../") {
		return "", ErrInvalidPath
	}
	return p, nil
}

// generateID creates a unique identifier for filenames
func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// MaxFileSize returns the maximum allowed document size (10MB)
func MaxFileSize() int64 {
	return 10 * 1024 * 1024
}

// IsPDF reports whether data starts with a PDF header
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// IsValidContentType checks if a declared upload content type is allowed for
// agreement documents. Generic or missing types pass; the bytes are still
// checked with IsPDF.
func IsValidContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/pdf" || mediaType == "application/octet-stream"
}

// DetectContentType sniffs the content type of data
func DetectContentType(data []byte) string {
	return http.DetectContentType(data)
}
