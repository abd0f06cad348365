// Package corpus lists the source documents the index is built from.
package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/hondana/internal/fileid"
)

// SourceFile is one document found in the corpus.
type SourceFile struct {
	// RelPath is relative to the corpus root, slash-separated.
	RelPath string
	AbsPath string
	Size    int64
	// Hash is the hex sha256 of the file content.
	Hash string
}

// ID returns the document ID of the file.
func (f SourceFile) ID() string { return fileid.DocID(f.RelPath) }

// Title returns the display title of the file.
func (f SourceFile) Title() string { return fileid.Title(f.RelPath) }

// Source lists source documents.
type Source interface {
	List(ctx context.Context) ([]SourceFile, error)
}

// DirSource is a read-only walk over a directory tree.
type DirSource struct {
	dir        string
	extensions []string
}

// NewDirSource returns a source over dir. Only files whose extension is in
// extensions are listed; an empty list allows every file.
func NewDirSource(dir string, extensions []string) *DirSource {
	return &DirSource{dir: dir, extensions: extensions}
}

// Dir returns the corpus root.
func (s *DirSource) Dir() string { return s.dir }

// Allowed reports whether path has an allowed extension.
func (s *DirSource) Allowed(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return extensionAllowed(filepath.Ext(path), s.extensions)
}

// List walks the directory and returns allowed regular files sorted by path.
// A missing directory is an error; an empty one is not.
func (s *DirSource) List(ctx context.Context) ([]SourceFile, error) {
	absDir, err := filepath.Abs(s.dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}

	var files []SourceFile
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.Allowed(path) {
			return nil
		}
		// Resolve symlinks so only regular files are listed.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		hash, err := fileid.HashFile(path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}
		rel, err := filepath.Rel(absDir, path)
		if err != nil {
			return err
		}
		files = append(files, SourceFile{
			RelPath: filepath.ToSlash(rel),
			AbsPath: path,
			Size:    finfo.Size(),
			Hash:    hash,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
