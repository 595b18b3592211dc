package alignment

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/panotour/internal/fsutil"
)

// ReadDocumentFile decodes the export file at path.
func ReadDocumentFile(fsys fsutil.FileSystem, path string) (Document, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("alignment: open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeDocument(f)
}

// WriteDocumentFile writes d to path, creating parent directories.
func WriteDocumentFile(fsys fsutil.FileSystem, path string, d Document) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("alignment: mkdir for %s: %w", path, err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("alignment: create %s: %w", path, err)
	}
	if err := Write(f, d); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
