package compress

import (
	"errors"
	"fmt"
)

var (
	ErrDecode         = errors.New("decode failed")
	ErrEncode         = errors.New("encode failed")
	ErrInvalidOptions = errors.New("invalid compression options")
)

type Stage string

const (
	StageDecode Stage = "decode"
	StageEncode Stage = "encode"
)

// TransformError is returned when the codec fails on a file.
type TransformError struct {
	Name  string
	Stage Stage
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("compress %q: %s: %v", e.Name, e.Stage, e.Err)
}

func (e *TransformError) Unwrap() []error {
	sentinel := ErrEncode
	if e.Stage == StageDecode {
		sentinel = ErrDecode
	}
	return []error{sentinel, e.Err}
}
