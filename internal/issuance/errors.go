package issuance

import (
	"errors"
	"fmt"
)

// Stage names one step of the issuance pipeline
type Stage string

const (
	StageLoad     Stage = "load"
	StageSign     Stage = "sign"
	StageQR       Stage = "qr"
	StagePersist  Stage = "persist"
	StagePDF      Stage = "pdf"
	StageEmail    Stage = "email"
	StageFinalize Stage = "finalize"
)

// StageError is returned by Pipeline.Issue and names the failing stage
type StageError struct {
	Stage     Stage
	BookingID string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("issuance %s failed for booking %s: %v", e.Stage, e.BookingID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the failing stage of err, or "" when err is not a StageError
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
