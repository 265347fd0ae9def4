package store

import (
	"errors"
	"fmt"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store is closed")

// ErrDimensionMismatch is returned when a vector's length differs from the
// store's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
	Field    string
}

func (e ErrDimensionMismatch) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("dimension mismatch in %s: expected %d, got %d", e.Field, e.Expected, e.Got)
	}
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Unwrap exposes the coded error so apperr.GetCode sees
// ERR_302_DIMENSION_MISMATCH.
func (e ErrDimensionMismatch) Unwrap() error {
	return apperr.New(apperr.ErrCodeDimensionMismatch, "vector dimension mismatch", nil).
		WithDetail("expected", fmt.Sprint(e.Expected)).
		WithDetail("got", fmt.Sprint(e.Got))
}

// IsDimensionMismatch reports whether err carries an ErrDimensionMismatch.
func IsDimensionMismatch(err error) bool {
	var dm ErrDimensionMismatch
	return errors.As(err, &dm)
}

// ErrPageNotFound reports a lookup for an unknown page.
func ErrPageNotFound(key string) error {
	return apperr.New(apperr.ErrCodePageNotFound, "page not found: "+key, nil)
}

// IsNotFound reports whether err is a page-not-found error.
func IsNotFound(err error) bool {
	return apperr.GetCode(err) == apperr.ErrCodePageNotFound
}

// wrapErr turns a driver error into a StoreError. Errors that already carry
// a code pass through unchanged.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClosed) || apperr.GetCode(err) != "" {
		return err
	}
	if isBusy(err) {
		return apperr.New(apperr.ErrCodeStoreLocked, op, err)
	}
	return apperr.StoreError(op, err)
}
