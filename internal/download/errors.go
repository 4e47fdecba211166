package download

import (
	"errors"
	"fmt"
)

var (
	// ErrBinaryNotFound indicates the fetcher binary is not installed or not on PATH
	ErrBinaryNotFound = errors.New("fetcher_not_found")

	// ErrBinaryOutdated indicates the fetcher binary lacks --progress-template support
	ErrBinaryOutdated = errors.New("fetcher_outdated")
)

// FetchErrorKind separates failures the fetcher reported from everything else.
type FetchErrorKind int

const (
	// KindFetch is a download or availability failure reported by the fetcher.
	KindFetch FetchErrorKind = iota + 1
	// KindUnexpected covers everything else: missing binary, crashes, interrupts.
	KindUnexpected
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// FetchError is the error half of a fetch result.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && (e.Detail == "" || e.Detail != e.Err.Error()) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// AsFetchError returns err as a *FetchError, wrapping foreign errors as
// KindUnexpected.
func AsFetchError(url string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: KindUnexpected, URL: url, Detail: err.Error(), Err: err}
}
