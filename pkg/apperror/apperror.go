package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal error of a clone run
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindAuthentication
	KindInstallationNotFound
	KindInvalidRepositoryReference
	KindRepositoryNotFound
	KindGitOperation
)

var kindNames = map[Kind]string{
	KindUnknown:                    "unknown error",
	KindConfiguration:              "configuration error",
	KindAuthentication:             "authentication error",
	KindInstallationNotFound:       "installation not found",
	KindInvalidRepositoryReference: "invalid repository reference",
	KindRepositoryNotFound:         "repository not found",
	KindGitOperation:               "git operation failed",
}

var exitCodes = map[Kind]int{
	KindUnknown:                    1,
	KindConfiguration:              2,
	KindAuthentication:             3,
	KindInstallationNotFound:       4,
	KindInvalidRepositoryReference: 5,
	KindRepositoryNotFound:         6,
	KindGitOperation:               7,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is a classified error carrying an optional cause
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, &apperror.Error{Kind: apperror.KindGitOperation}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind, returning nil for a nil err
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Wrapf classifies err as kind with a formatted message, returning nil for a nil err
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps err to a process exit status, 0 for a nil err
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return exitCodes[KindOf(err)]
}
