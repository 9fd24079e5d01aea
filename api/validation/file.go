package validation

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
)

var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// Limits bounds what intake accepts. File contents are not inspected: files
// that turn out not to be images are skipped later by the pipeline.
type Limits struct {
	MaxFiles          int
	MaxFileSize       int64
	AllowedExtensions []string
}

func (l Limits) ValidateFiles(files []*multipart.FileHeader) error {
	if len(files) == 0 {
		return ErrNoFiles
	}
	if l.MaxFiles > 0 && len(files) > l.MaxFiles {
		return fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), l.MaxFiles)
	}

	for _, f := range files {
		if l.MaxFileSize > 0 && f.Size > l.MaxFileSize {
			return fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, f.Filename, f.Size)
		}
		if !l.allowed(f.Filename) {
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Filename)
		}
	}
	return nil
}

func (l Limits) allowed(filename string) bool {
	exts := l.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
