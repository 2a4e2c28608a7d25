package search

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

// Error classes. Typed errors below match these with errors.Is.
var (
	ErrConfiguration           = errors.Base("configuration error")
	ErrFileAccess              = errors.Base("file access error")
	ErrClassificationAmbiguous = errors.Base("classification ambiguous")
	ErrFileTooLarge            = errors.Base("file too large")
)

// ConfigurationError reports invalid criteria. It aborts the whole search.
type ConfigurationError struct {
	Field string
	Value interface{}
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid %s (value: %v)", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s (value: %v): %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// FileAccessError reports a per-file read failure. It is recorded on that
// file's result and never aborts the batch.
type FileAccessError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error {
	return e.Err
}

func (e *FileAccessError) Is(target error) bool {
	return target == ErrFileAccess
}

func configError(field string, value interface{}, err error) error {
	return errors.WithStack(&ConfigurationError{Field: field, Value: value, Err: err})
}

func accessError(op, path string, err error) error {
	return &FileAccessError{Op: op, Path: path, Err: err}
}
