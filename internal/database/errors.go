package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrUniqueViolation = errors.New("unique constraint violated")

// ConstraintError is a sqlite UNIQUE failure with the offending column.
type ConstraintError struct {
	Table  string
	Column string
	Cause  error
}

func (e *ConstraintError) Error() string {
	if e.Column == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%s: %s.%s", e.Cause, e.Table, e.Column)
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

// sqlite reports composite keys as "t.a, t.b"; the first column is kept.
var uniqueFailure = regexp.MustCompile(`UNIQUE constraint failed: ([A-Za-z0-9_]+)\.([A-Za-z0-9_]+)`)

// ClassifyError turns a sqlite UNIQUE failure into a *ConstraintError.
// Any other error is returned as is.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if m := uniqueFailure.FindStringSubmatch(err.Error()); m != nil {
		return &ConstraintError{Table: m[1], Column: m[2], Cause: ErrUniqueViolation}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &ConstraintError{Cause: ErrUniqueViolation}
	}
	return err
}

func IsUniqueError(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}
