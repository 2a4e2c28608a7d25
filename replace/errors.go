package replace

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

var (
	// ErrReplaceWrite marks every failure to rewrite a file
	ErrReplaceWrite = errors.Base("replace write failed")

	// ErrUnsupportedReplace is returned for extracted, hex and archive results
	ErrUnsupportedReplace = errors.Base("result is read only")

	// ErrFileChanged means an approved match is no longer at its recorded offset
	ErrFileChanged = errors.Base("file changed since search")

	// ErrNoBackup is returned by Undo for outcomes written without a backup
	ErrNoBackup = errors.Base("no backup recorded")
)

// Stage names the step of a rewrite that failed
type Stage string

const (
	StageRead   Stage = "read"
	StageVerify Stage = "verify"
	StageEncode Stage = "encode"
	StageBackup Stage = "backup"
	StageWrite  Stage = "write"
	StageRename Stage = "rename"
)

// ReplaceWriteError reports a file left untouched because a rewrite step failed
type ReplaceWriteError struct {
	Path  string
	Stage Stage
	Err   error
}

func (e *ReplaceWriteError) Error() string {
	return fmt.Sprintf("replace %s: %s: %v", e.Path, e.Stage, e.Err)
}

func (e *ReplaceWriteError) Unwrap() error {
	return e.Err
}

func (e *ReplaceWriteError) Is(target error) bool {
	return target == ErrReplaceWrite
}

func writeError(path string, stage Stage, err error) error {
	return errors.WithStack(&ReplaceWriteError{Path: path, Stage: stage, Err: err})
}
