// Package fileid derives document identities, content hashes and the corpus fingerprint.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const prefix = "file:"

// DocID returns a stable document ID for a path relative to the corpus root.
// Same path always yields the same ID, on any OS.
func DocID(relPath string) string {
	normalized := filepath.ToSlash(filepath.Clean(relPath))
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// HashFile returns the hex sha256 of the file at path without reading it into memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint summarizes the corpus state: the settings key followed by every
// document ID and content hash, sorted by ID. The result does not depend on
// the order of hashes.
func Fingerprint(settingsKey string, hashes map[string]string) string {
	ids := make([]string, 0, len(hashes))
	for id := range hashes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	h := sha256.New()
	h.Write([]byte(settingsKey))
	h.Write([]byte{'\n'})
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{':'})
		h.Write([]byte(hashes[id]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Title returns the display title for a document path: its file name without extension.
func Title(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
