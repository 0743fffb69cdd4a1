package history

import "errors"

var (
	// ErrPersistence wraps I/O failures reading or writing the history file.
	ErrPersistence = errors.New("history: persistence failed")

	// ErrCorruptFile indicates the history file failed structural checks and
	// was moved aside.
	ErrCorruptFile = errors.New("history: corrupt history file")
)
