package output

import (
	"encoding/json"
	"errors"
	"github.com/aldas/go-isobus-client"
	"io"
	"sync"
)

// JSONOutput writes decoded messages as JSON, one message per line
type JSONOutput struct {
	lock   sync.Mutex
	writer io.Writer
}

// NewJSONOutput creates JSON lines output
func NewJSONOutput(writer io.Writer) *JSONOutput {
	return &JSONOutput{writer: writer}
}

// Write writes message as single JSON line
func (o *JSONOutput) Write(msg isobus.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	o.lock.Lock()
	defer o.lock.Unlock()
	_, err = o.writer.Write(b)
	return err
}

// Multi writes every message to all outputs. All outputs are written even when some fail, errors are joined.
type Multi []isobus.MessageWriter

// Write writes message to all outputs
func (m Multi) Write(msg isobus.Message) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(msg); err != nil {
			errs = append(errs, err)
		}
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return &multiError{errs: errs}
}

type multiError struct {
	errs []error
}

func (e *multiError) Error() string {
	s := "multiple output errors:"
	for _, err := range e.errs {
		s += " " + err.Error() + ";"
	}
	return s
}

// Is reports whether any of the wrapped errors matches target
func (e *multiError) Is(target error) bool {
	for _, err := range e.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
