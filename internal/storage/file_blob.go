package storage

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"context"

	"github.com/snapmagictest/snapmagic/internal/common"
)

// FileBlobStore implements interfaces.BlobStore using the local filesystem.
// It is used for dev/test in place of the S3 adapter; PresignGet signs a
// path-scoped token rather than a real pre-signed URL capability (see
// DESIGN.md for the documented limitation — this store is not meant to sit
// behind a public internet-facing deployment).
type FileBlobStore struct {
	basePath  string
	signerKey []byte
	logger    *common.Logger
}

// NewFileBlobStore creates a new file-based blob store rooted at basePath.
// signerKey backs the HMAC signature used by PresignGet.
func NewFileBlobStore(logger *common.Logger, basePath string, signerKey []byte) (*FileBlobStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("file blob store base_path is required")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", basePath, err)
	}

	fb := &FileBlobStore{basePath: basePath, signerKey: signerKey, logger: logger}
	logger.Debug().Str("path", basePath).Msg("FileBlobStore initialized")
	return fb, nil
}

// sanitizeKey converts a key to a safe filesystem path, preventing path
// traversal while allowing "/" for subdirectories.
func (fb *FileBlobStore) sanitizeKey(key string) string {
	clean := filepath.Clean(key)
	clean = strings.TrimPrefix(clean, "/")
	if strings.Contains(clean, "..") {
		clean = strings.ReplaceAll(clean, "..", "__")
	}
	return clean
}

func (fb *FileBlobStore) keyToPath(key string) string {
	return filepath.Join(fb.basePath, fb.sanitizeKey(key))
}

func (fb *FileBlobStore) ctypePath(key string) string {
	return fb.keyToPath(key) + ".ctype"
}

// Put stores a blob and its content type atomically (temp file + rename).
func (fb *FileBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path := fb.keyToPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := writeAtomic(dir, path, bytes.NewReader(data)); err != nil {
		return err
	}
	if contentType != "" {
		if err := writeAtomic(dir, fb.ctypePath(key), strings.NewReader(contentType)); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomic(dir, path string, r io.Reader) error {
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Exists checks if a blob exists.
func (fb *FileBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(fb.keyToPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check blob %s: %w", key, err)
}

// Get retrieves the raw bytes for key, used by the /blobs/{key} dev-mode
// delivery endpoint that PresignGet's signed links point to.
func (fb *FileBlobStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	path := fb.keyToPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrBlobNotFound
		}
		return nil, "", fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	ctype, _ := os.ReadFile(fb.ctypePath(key))
	return data, string(ctype), nil
}

// PresignGet signs a short-lived path-scoped token for key. It does not
// produce a real standalone URL capability the way S3's presign does —
// verification happens against this process's /blobs/{key} handler, so the
// "signed URL" only works against this service, not directly against the
// backing store. See DESIGN.md.
func (fb *FileBlobStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	exp := time.Now().Add(ttl).Unix()
	sig := fb.sign(key, exp)
	return fmt.Sprintf("/blobs/%s?exp=%d&sig=%s", key, exp, sig), nil
}

func (fb *FileBlobStore) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, fb.signerKey)
	mac.Write([]byte(fmt.Sprintf("%s:%d", key, exp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a key/exp/sig triple produced by PresignGet.
func (fb *FileBlobStore) VerifySignature(key, expStr, sig string) bool {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil || time.Now().Unix() > exp {
		return false
	}
	want := fb.sign(key, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}

// Close releases resources (no-op for file storage).
func (fb *FileBlobStore) Close() error { return nil }
