package recognition

import (
	"errors"
)

// ErrModelNotLoaded is returned when no trained model is available.
var ErrModelNotLoaded = errors.New("recognition model not loaded")

// Kind classifies recognition failures.
type Kind string

const (
	KindCamera         Kind = "CAMERA_ERROR"
	KindNoModel        Kind = "NO_MODEL"
	KindDetection      Kind = "DETECTION_FAILED"
	KindClassification Kind = "CLASSIFICATION_FAILED"
	KindLedger         Kind = "LEDGER_WRITE_FAILED"
)

// Error is a structured recognition error. Fatal errors end a session;
// the others cost one face or one frame.
type Error struct {
	Kind    Kind
	Message string
	Fatal   bool
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Operator-facing messages
var errorMessages = map[Kind]string{
	KindCamera:         "Camera error. Please check the camera connection",
	KindNoModel:        "No trained model. Enroll students and run training first",
	KindDetection:      "Face detection failed on this frame",
	KindClassification: "Face could not be classified",
	KindLedger:         "Attendance could not be recorded",
}

// Message returns the operator-facing message for kind.
func Message(kind Kind) string {
	if msg, ok := errorMessages[kind]; ok {
		return msg
	}
	return "Recognition failed"
}

// NewError wraps err as a recognition error of kind.
func NewError(kind Kind, fatal bool, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: Message(kind),
		Fatal:   fatal,
		Err:     err,
	}
}

// IsFatal reports whether err is a fatal recognition error.
func IsFatal(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Fatal
}

// KindOf returns the kind of a recognition error, or "".
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
