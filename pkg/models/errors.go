package models

import "errors"

// Pipeline error taxonomy. Callers match these with errors.Is; components wrap
// them with context.
var (
	ErrInvalidAnalysis       = errors.New("invalid analysis")
	ErrClipMismatch          = errors.New("clip mismatch")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownReservation    = errors.New("unknown reservation")
	ErrExportFailed          = errors.New("export failed")

	ErrAlreadyCommitted    = errors.New("reservation already committed")
	ErrReservationReleased = errors.New("reservation released")
	ErrInvalidAmount       = errors.New("invalid credit amount")
	ErrInvalidJobID        = errors.New("invalid job id")
)
