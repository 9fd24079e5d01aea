package validation

import "errors"

var (
	ErrNoFiles           = errors.New("no files provided")
	ErrTooManyFiles      = errors.New("too many files")
	ErrFileTooLarge      = errors.New("file too large")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)
