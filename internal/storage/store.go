// Package storage persists uploaded audio under the media root and owns
// the naming scheme that keeps concurrent uploads from clobbering each
// other.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// Illegal chars: / \ : * ? " < > |
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)
	whitespace   = regexp.MustCompile(`[\s_]+`)
)

// SanitizeFilename makes a client-supplied filename safe for the local
// filesystem. The extension is preserved; the stem has illegal characters
// replaced, runs of whitespace collapsed, and its length capped.
func SanitizeFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	stem = illegalChars.ReplaceAllString(stem, "_")
	stem = whitespace.ReplaceAllString(stem, "-")
	stem = strings.Trim(stem, "-.")

	if len(stem) > 50 {
		stem = strings.TrimRight(stem[:50], "-")
	}
	if stem == "" {
		stem = "audio"
	}
	return stem + ext
}

// UniqueName returns a fresh request id and the on-disk name for that
// request's copy of filename: the 8-char id prefix plus the sanitized
// name. Two concurrent uploads of "speech.wav" therefore never share a
// path.
func UniqueName(filename string) (id, name string) {
	id = uuid.NewString()[:8]
	return id, id + "_" + SanitizeFilename(filename)
}

// Store writes uploads into its audio directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audio directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the audio directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path of a stored name.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Save writes data under name atomically (temp file + rename) so later
// pipeline stages never observe a partially written upload. Returns the
// final path.
func (s *Store) Save(name string, data []byte) (string, error) {
	dst := s.Path(name)

	tmpFile, err := os.CreateTemp(s.dir, "upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return "", fmt.Errorf("syncing upload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing upload: %w", err)
	}
	tmpFile = nil // prevent defer cleanup

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming upload: %w", err)
	}
	return dst, nil
}

// Remove deletes a stored file. Removing a file that is already gone is
// not an error.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
