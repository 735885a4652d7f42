/*Package camera contains the control-plane core shared by both camera
drivers: the vendor SDK contract (Backend), the session state machine, the
device handle guard, the failure taxonomy, and the parameter validators.

The two vendor SDKs expose very different wire surfaces but an identical
shape: integer status codes where zero means success, a device handle that
must be acquired once and released once, and open/close, start/stop pairs
that are not naturally idempotent.  Package camera owns making those pairs
safe; the driver packages (hikrobot, guide) only translate calls.
*/
package camera

// OK is the success sentinel shared by both vendor SDK conventions.
// Any other status code is an opaque, backend-specific failure.
const OK = 0

// Handle identifies a native device context held by the vendor SDK.
// A zero Handle is never valid for any operation other than initialization.
type Handle int

// Param names a tunable or command register on a camera.  The session
// validates values and checks state preconditions before a Param ever
// reaches the backend.
type Param string

// Params understood by the sessions.  ExposureTime, Gain and FrameRate are
// the visible-light tunables; the remainder are infrared-only.
const (
	ExposureTime Param = "ExposureTime" // microseconds
	Gain         Param = "Gain"         // dB
	FrameRate    Param = "FrameRate"    // fps

	ColorBar  Param = "ColorBar"  // palette bar overlay on/off
	ColorShow Param = "ColorShow" // palette index
	Focus     Param = "Focus"     // focus command, value is the step
	Shutter   Param = "Shutter"   // shutter correction trigger
)

// CaptureKind selects the artifact produced by a snapshot.
type CaptureKind int

const (
	// CaptureImage saves the current frame as an image file.
	CaptureImage CaptureKind = iota

	// CaptureHeatmap saves the current palette-mapped thermal image.
	// Infrared only.
	CaptureHeatmap

	// CaptureMatrix extracts the current temperature matrix.  Infrared
	// only; the backend returns samples rather than writing a file.
	CaptureMatrix
)

// Selector tells Open which physical device to attach to.  Visible-light
// cameras are addressed by positional enumeration index; the network
// infrared camera is addressed by connection parameters.
type Selector struct {
	// Index is the device's position in the enumeration list.
	Index int

	// Conn holds login parameters for network cameras, nil otherwise.
	Conn *ConnectionParams
}

// ConnectionParams is the address/credentials bundle used to log in to a
// network camera.
type ConnectionParams struct {
	Server   string
	Username string
	Password string
	Port     int
}

// Normalize validates every field and returns the validated copy.  It is
// the single gate between configuration input and the backend; an invalid
// bundle never reaches a login call.
func (p ConnectionParams) Normalize() (ConnectionParams, error) {
	var out ConnectionParams
	var err error
	if out.Server, err = ValidateServer(p.Server); err != nil {
		return out, err
	}
	if out.Username, err = ValidateUsername(p.Username); err != nil {
		return out, err
	}
	if out.Password, err = ValidatePassword(p.Password); err != nil {
		return out, err
	}
	if out.Port, err = ValidatePort(p.Port); err != nil {
		return out, err
	}
	return out, nil
}

// FrameSink receives frames delivered asynchronously from the driver
// thread during streaming.  Implementations must not call back into the
// owning session; hand data off to the control loop instead.
type FrameSink interface {
	Frame(data []byte, width, height int)
}

// Backend is the vendor SDK surface the session drives.  Every method
// returns a raw integer status code; OK means success and all other values
// are opaque beyond diagnostics.  Implementations live in the driver
// packages, and in the test files as fakes.
type Backend interface {
	// Init acquires the native device context.  Called once per session
	// lifetime, at construction.
	Init() (Handle, int)

	// Uninit releases the native device context.
	Uninit(h Handle) int

	// Open attaches to the physical device (open or login, depending on
	// the driver).
	Open(h Handle, sel Selector) int

	// Close detaches from the physical device (close or logout).
	Close(h Handle) int

	// StartStream begins frame delivery to sink from the driver thread.
	// The sink reference must remain valid until StopStream returns.
	StartStream(h Handle, sink FrameSink) int

	// StopStream ends frame delivery.
	StopStream(h Handle) int

	// GetParam reads a parameter from the device.
	GetParam(h Handle, p Param) (float64, int)

	// SetParam writes a parameter to the device.
	SetParam(h Handle, p Param, v float64) int

	// Capture writes the selected artifact to path.  Not used for
	// CaptureMatrix; see TemperatureMatrix.
	Capture(h Handle, kind CaptureKind, path string) int

	// TemperatureMatrix reads n temperature samples from the device.
	TemperatureMatrix(h Handle, n int) ([]float64, int)

	// StartRecord begins writing a video file at path.
	StartRecord(h Handle, path string) int

	// StopRecord ends the running recording.
	StopRecord(h Handle) int
}
