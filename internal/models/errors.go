package models

import (
	"errors"
	"fmt"
)

var (
	ErrMissingColumn   = errors.New("missing column")
	ErrEmptyInput      = errors.New("empty input")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrNoOverlap       = errors.New("no overlapping categories between capability and need tables")
	ErrModelNotTrained = errors.New("fitness model not trained")
	ErrEmptyDataset    = errors.New("no valid labeled pairs to train on")
	ErrInvalidValue    = errors.New("invalid value")
)

// MissingColumnError reports a required column absent from a table. Row is
// set when the column is missing for one key only, e.g. a district with no
// population entry after the join.
type MissingColumnError struct {
	Table  string
	Column string
	Row    string
}

func (e *MissingColumnError) Error() string {
	if e.Row != "" {
		return fmt.Sprintf("missing column %q in table %q for %q", e.Column, e.Table, e.Row)
	}
	return fmt.Sprintf("missing column %q in table %q", e.Column, e.Table)
}

func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}

type EmptyInputError struct {
	Table string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("table %q has no rows", e.Table)
}

func (e *EmptyInputError) Is(target error) bool {
	return target == ErrEmptyInput
}

// InvalidValueError reports a cell that is not a finite number or falls
// outside the range its column allows. Row is a 1-based line number for file
// input and a district or NGO name otherwise.
type InvalidValueError struct {
	Table  string
	Row    string
	Column string
	Value  string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s row %s column %q: invalid value %q: %s", e.Table, e.Row, e.Column, e.Value, e.Reason)
}

func (e *InvalidValueError) Is(target error) bool {
	return target == ErrInvalidValue
}

type EntityKind string

const (
	EntityNGO      EntityKind = "ngo"
	EntityDistrict EntityKind = "district"
)

type UnknownEntityError struct {
	Kind EntityKind
	Name string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown %s: %q", e.Kind, e.Name)
}

func (e *UnknownEntityError) Is(target error) bool {
	return target == ErrUnknownEntity
}
