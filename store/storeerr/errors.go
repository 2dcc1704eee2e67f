// Package storeerr defines the flat error-kind taxonomy the store and
// query packages report through, wrapped with enough context (which
// operation, which table) to be useful in a log line without losing the
// ability to classify with errors.Is/errors.As.
package storeerr

import "fmt"

// Code classifies what went wrong, mirroring the flat error-kind list the
// storage engine this design is grounded on reports through (e.g.
// slotcache's ErrCorrupt/ErrBusy/ErrClosed sentinel set), extended to the
// lifecycle steps a multi-table store adds on top of a single cache file.
type Code int

const (
	CodeUnknown Code = iota
	CodeTransactorLock
	CodeProcessLock
	CodeFlushLock
	CodeProcessUnlock
	CodeFlushUnlock
	CodeClearDirectory
	CodeRemoveDirectory
	CodeRenameDirectory
	CodeCreateDirectory
	CodeCreateFile
	CodeDumpFile
	CodeUnloadedFile
	CodeCreateTable
	CodeVerifyTable
	CodeCloseTable
	CodeBackupTable
	CodeRestoreTable
	CodeMissingBackup
	CodeCorrupt
	CodeClosed
	CodeEOF
)

func (c Code) String() string {
	switch c {
	case CodeTransactorLock:
		return "transactor_lock"
	case CodeProcessLock:
		return "process_lock"
	case CodeFlushLock:
		return "flush_lock"
	case CodeProcessUnlock:
		return "process_unlock"
	case CodeFlushUnlock:
		return "flush_unlock"
	case CodeClearDirectory:
		return "clear_directory"
	case CodeRemoveDirectory:
		return "remove_directory"
	case CodeRenameDirectory:
		return "rename_directory"
	case CodeCreateDirectory:
		return "create_directory"
	case CodeCreateFile:
		return "create_file"
	case CodeDumpFile:
		return "dump_file"
	case CodeUnloadedFile:
		return "unloaded_file"
	case CodeCreateTable:
		return "create_table"
	case CodeVerifyTable:
		return "verify_table"
	case CodeCloseTable:
		return "close_table"
	case CodeBackupTable:
		return "backup_table"
	case CodeRestoreTable:
		return "restore_table"
	case CodeMissingBackup:
		return "missing_backup"
	case CodeCorrupt:
		return "corrupt"
	case CodeClosed:
		return "closed"
	case CodeEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the Code and the operation name it
// occurred during (e.g. "store.Create", "query.SetStrong"), so a caller can
// both errors.Is against a sentinel below and read a human-diagnosable
// message.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error for op with the given code, optionally wrapping
// a lower-level cause.
func New(op string, code Code, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// Is lets errors.Is(err, storeerr.Sentinel(storeerr.CodeCorrupt)) style
// comparisons work by comparing codes rather than requiring an exact
// pointer match. Targets that are not an *Error never match.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// Sentinel returns a bare *Error carrying only a Code, suitable as an
// errors.Is comparison target: errors.Is(err, storeerr.Sentinel(storeerr.CodeCorrupt)).
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}
