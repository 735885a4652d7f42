package camera

import "fmt"

// Kind classifies a session failure.  The set is flat; callers that need
// user-facing text combine the kind with the raw backend code.
type Kind int

const (
	// KindNone is the zero Kind, present on sessions that have not failed.
	KindNone Kind = iota

	// NotInitialized is returned when an operation requires a state the
	// session has not reached.
	NotInitialized

	// InitFailed is recorded when the native device context could not be
	// acquired.
	InitFailed

	// ConnectFailed is recorded when open/login is rejected by the device.
	ConnectFailed

	// StreamStartFailed is recorded when the device refuses to start
	// delivering frames.
	StreamStartFailed

	// RecordStartFailed is recorded when the device refuses to start a
	// recording.
	RecordStartFailed

	// CaptureFailed is recorded when a snapshot artifact could not be
	// produced.
	CaptureFailed

	// ParamReadFailed is recorded when a parameter read is rejected.
	ParamReadFailed

	// ParamWriteFailed is recorded when a parameter write is rejected.
	ParamWriteFailed

	// ValidationError means the input never reached the hardware.
	ValidationError

	// DuplicateOperation reports a repeated no-op command.  It is always
	// informational; the session state is exactly what the caller asked
	// for.
	DuplicateOperation

	// NoDeviceReady is returned by the orchestrator when a compound
	// operation finds no session in a usable state.
	NoDeviceReady

	// ShapeMismatch is reported by the render pipeline for a document
	// whose sample count disagrees with its declared geometry.  It only
	// fails that document, never the batch.
	ShapeMismatch

	// NoDocumentsFound is emitted by the render pipeline for an empty
	// working set.  Informational; an empty render is a success.
	NoDocumentsFound
)

var kindNames = map[Kind]string{
	KindNone:           "none",
	NotInitialized:     "not initialized",
	InitFailed:         "init failed",
	ConnectFailed:      "connect failed",
	StreamStartFailed:  "stream start failed",
	RecordStartFailed:  "record start failed",
	CaptureFailed:      "capture failed",
	ParamReadFailed:    "parameter read failed",
	ParamWriteFailed:   "parameter write failed",
	ValidationError:    "validation error",
	DuplicateOperation: "duplicate operation",
	NoDeviceReady:      "no device ready",
	ShapeMismatch:      "shape mismatch",
	NoDocumentsFound:   "no documents found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown kind %d", int(k))
}

// Failure is the discriminated error returned by every session and
// orchestrator operation.  Code carries the raw backend status when one
// exists; Detail names the violated constraint for validation failures.
type Failure struct {
	Kind   Kind
	Code   int
	Detail string
}

// Error satisfies the error interface
func (f Failure) Error() string {
	s := "camera: " + f.Kind.String()
	if f.Detail != "" {
		s += ": " + f.Detail
	}
	if f.Code != OK {
		s += fmt.Sprintf(" (backend code %#x)", f.Code)
	}
	return s
}

func fail(k Kind, code int) error {
	return Failure{Kind: k, Code: code}
}

func failDetail(k Kind, detail string) error {
	return Failure{Kind: k, Detail: detail}
}

// KindOf extracts the failure kind from an error, or KindNone if err is
// nil or not a Failure.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if f, ok := err.(Failure); ok {
		return f.Kind
	}
	return KindNone
}

// IsDuplicate reports whether err is the informational duplicate-operation
// signal.  Duplicates are never fatal; callers may surface a notice and
// continue.
func IsDuplicate(err error) bool {
	return KindOf(err) == DuplicateOperation
}
