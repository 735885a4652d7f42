package camera

import (
	"log"
	"math"
	"sync"
)

// SessionState is the single source of truth for one camera's control
// plane.  Transitions only move one step at a time; in particular a
// session never tears down its connection while frames are still being
// delivered.
type SessionState int

const (
	// Uninitialized means no native handle is held.  It is both the
	// birth state and the terminal state after Release.
	Uninitialized SessionState = iota

	// Initialized means the handle is held but the device is not open.
	Initialized

	// Connected means the device is open (or logged in) and idle.
	Connected

	// Streaming means the device is actively delivering frames.
	Streaming
)

var stateNames = [...]string{"Uninitialized", "Initialized", "Connected", "Streaming"}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Invalid"
	}
	return stateNames[s]
}

// Session is the control-plane state machine for one physical camera.
// All operations are serialized by an internal mutex; no two native calls
// for the same device are ever issued concurrently.  Methods never panic
// and never let a backend code escape unclassified: every failure is a
// Failure value carrying the kind and the raw code.
type Session struct {
	name      string
	backend   Backend
	guard     HandleGuard
	cacheable []Param

	mu        sync.Mutex
	state     SessionState
	conn      *ConnectionParams
	reg       *sinkGuard
	recording bool
	cache     map[Param]float64
	lastKind  Kind
	lastCode  int
	dropped   uint64
}

// NewSession constructs a session and eagerly acquires the native handle,
// leaving the session Initialized.  cacheable lists the parameters to read
// back from the device after each successful open.  On init failure the
// session is returned anyway, stuck in Uninitialized with the failure
// recorded; every subsequent operation will report NotInitialized.
func NewSession(name string, b Backend, cacheable ...Param) (*Session, error) {
	s := &Session{
		name:      name,
		backend:   b,
		cacheable: cacheable,
		cache:     make(map[Param]float64),
	}
	if _, err := s.guard.Acquire(b.Init); err != nil {
		s.recordErr(err)
		return s, err
	}
	s.state = Initialized
	return s, nil
}

// recordErr stores the failure kind and code for later inspection.  The
// caller holds the mutex except during construction.
func (s *Session) recordErr(err error) error {
	if f, ok := err.(Failure); ok {
		s.lastKind = f.Kind
		s.lastCode = f.Code
	}
	return err
}

func (s *Session) failLocked(k Kind, code int) error {
	s.lastKind = k
	s.lastCode = code
	return fail(k, code)
}

// Open attaches the session to its physical device.  The selector is
// validated before any native call; connection parameters that do not
// normalize never reach the login path.  Opening a session that is already
// Connected or Streaming is a DuplicateOperation and issues no native
// call.  On backend rejection a best-effort close is issued to return the
// native layer to a known state and the session stays Initialized.
func (s *Session) Open(sel Selector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Uninitialized:
		return s.failLocked(NotInitialized, OK)
	case Connected, Streaming:
		return fail(DuplicateOperation, OK)
	}

	if sel.Conn != nil {
		norm, err := sel.Conn.Normalize()
		if err != nil {
			return s.recordErr(err)
		}
		sel.Conn = &norm
	} else if sel.Index < 0 {
		return s.recordErr(failDetail(ValidationError, "no device selected"))
	}

	h, _ := s.guard.Handle()
	if code := s.backend.Open(h, sel); code != OK {
		// restore the backend to a known state; the close result is
		// irrelevant because we report the open failure
		s.backend.Close(h)
		return s.failLocked(ConnectFailed, code)
	}
	s.state = Connected
	if sel.Conn != nil {
		c := *sel.Conn
		s.conn = &c
	}
	s.cacheParamsLocked(h)
	return nil
}

// cacheParamsLocked reads back the cacheable parameters after a successful
// open.  Read failures are recorded and logged but do not undo the open;
// the device is connected whether or not it answers parameter queries.
func (s *Session) cacheParamsLocked(h Handle) {
	for _, p := range s.cacheable {
		v, code := s.backend.GetParam(h, p)
		if code != OK {
			s.lastKind = ParamReadFailed
			s.lastCode = code
			log.Printf("%s: read-back of %s returned %#x", s.name, p, code)
			continue
		}
		s.cache[p] = v
	}
}

// Close detaches the session from its device, stopping streaming first if
// needed.  Close always succeeds at the state level: the session is forced
// to Initialized regardless of the backend return, because a camera that
// refuses to acknowledge logout must not wedge teardown.  Closing an
// already-closed session is a silent no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Streaming {
		s.stopStreamLocked()
	}
	if s.state != Connected {
		return nil
	}
	h, _ := s.guard.Handle()
	if code := s.backend.Close(h); code != OK {
		s.lastCode = code
		log.Printf("%s: close returned %#x, forcing state to Initialized", s.name, code)
	}
	s.state = Initialized
	return nil
}

// StartStream begins frame delivery to sink.  The sink is wrapped in a
// guarded registration which the native layer holds for the life of the
// stream; the registration outlives the native call and is only retired
// once in-flight deliveries complete (see StopStream).  A second
// StartStream without an intervening stop is a DuplicateOperation and the
// session stays Streaming.
func (s *Session) StartStream(sink FrameSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Streaming:
		return fail(DuplicateOperation, OK)
	case Connected:
	default:
		return s.failLocked(NotInitialized, OK)
	}
	if sink == nil {
		return s.recordErr(failDetail(ValidationError, "nil frame sink"))
	}

	reg := newSinkGuard(sink)
	h, _ := s.guard.Handle()
	if code := s.backend.StartStream(h, reg); code != OK {
		s.backend.StopStream(h) // best effort
		return s.failLocked(StreamStartFailed, code)
	}
	s.reg = reg
	s.state = Streaming
	return nil
}

// StopStream ends frame delivery.  It is idempotent; stopping a session
// that is not streaming succeeds trivially.
func (s *Session) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopStreamLocked()
}

func (s *Session) stopStreamLocked() error {
	if s.state != Streaming {
		return nil
	}
	if s.recording {
		s.stopRecordLocked()
	}
	h, _ := s.guard.Handle()
	if code := s.backend.StopStream(h); code != OK {
		s.lastCode = code
		log.Printf("%s: stop stream returned %#x, forcing state to Connected", s.name, code)
	}
	s.state = Connected
	if s.reg != nil {
		// wait out in-flight deliveries before the registration is
		// dropped; the native thread may be mid-callback right now
		s.reg.Uninstall()
		s.dropped += s.reg.Dropped()
		s.reg = nil
	}
	return nil
}

// StartRecord begins writing a video file at path.  Requires Streaming;
// starting a second recording is a DuplicateOperation.
func (s *Session) StartRecord(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Streaming {
		return s.failLocked(NotInitialized, OK)
	}
	if s.recording {
		return fail(DuplicateOperation, OK)
	}
	h, _ := s.guard.Handle()
	if code := s.backend.StartRecord(h, path); code != OK {
		return s.failLocked(RecordStartFailed, code)
	}
	s.recording = true
	return nil
}

// StopRecord ends the running recording.  Idempotent.
func (s *Session) StopRecord() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRecordLocked()
	return nil
}

func (s *Session) stopRecordLocked() {
	if !s.recording {
		return
	}
	h, _ := s.guard.Handle()
	if code := s.backend.StopRecord(h); code != OK {
		s.lastCode = code
		log.Printf("%s: stop record returned %#x", s.name, code)
	}
	s.recording = false
}

// paramStateOK reports whether p may be written in state.  The streaming
// tunables may be adjusted live; the infrared command registers require an
// idle connection.
func paramStateOK(p Param, state SessionState) bool {
	switch p {
	case ExposureTime, Gain, FrameRate:
		return state == Connected || state == Streaming
	case ColorBar, ColorShow, Focus, Shutter:
		return state == Connected
	}
	return false
}

// validateParamValue normalizes v for p, rejecting out-of-range and
// non-integral input before it can reach the backend.
func validateParamValue(p Param, v float64) (float64, error) {
	integral := func() (int, error) {
		if v != math.Trunc(v) {
			return 0, failDetail(ValidationError, string(p)+" requires an integer value")
		}
		return int(v), nil
	}
	switch p {
	case ExposureTime:
		i, err := integral()
		if err != nil {
			return 0, err
		}
		i, err = ValidateExposureTime(i)
		return float64(i), err
	case Gain:
		i, err := integral()
		if err != nil {
			return 0, err
		}
		i, err = ValidateGain(i)
		return float64(i), err
	case FrameRate:
		return ValidateFrameRate(v)
	case ColorBar, ColorShow, Focus, Shutter:
		i, err := integral()
		if err != nil {
			return 0, err
		}
		if i < 0 {
			return 0, failDetail(ValidationError, string(p)+" must not be negative")
		}
		return float64(i), nil
	}
	return 0, failDetail(ValidationError, "unknown parameter "+string(p))
}

// SetParameter validates v and writes it to the device.  Invalid input
// never reaches the backend and does not disturb the cached value.
func (s *Session) SetParameter(p Param, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !paramStateOK(p, s.state) {
		return s.failLocked(NotInitialized, OK)
	}
	v, err := validateParamValue(p, v)
	if err != nil {
		return s.recordErr(err)
	}
	h, _ := s.guard.Handle()
	if code := s.backend.SetParam(h, p, v); code != OK {
		return s.failLocked(ParamWriteFailed, code)
	}
	switch p {
	case ExposureTime, Gain, FrameRate, ColorBar, ColorShow:
		s.cache[p] = v
	}
	return nil
}

// GetParameter reads p from the device and refreshes the cache.
func (s *Session) GetParameter(p Param) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected && s.state != Streaming {
		return 0, s.failLocked(NotInitialized, OK)
	}
	h, _ := s.guard.Handle()
	v, code := s.backend.GetParam(h, p)
	if code != OK {
		return 0, s.failLocked(ParamReadFailed, code)
	}
	s.cache[p] = v
	return v, nil
}

// CachedParam returns the last known value of p without touching the
// device.  The boolean is false when the parameter has never been read or
// written through this session.
func (s *Session) CachedParam(p Param) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[p]
	return v, ok
}

// CaptureSnapshot writes the selected artifact to path.  Requires
// Streaming.
func (s *Session) CaptureSnapshot(kind CaptureKind, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Streaming {
		return s.recordErr(failDetail(CaptureFailed, "session is not streaming"))
	}
	h, _ := s.guard.Handle()
	if code := s.backend.Capture(h, kind, path); code != OK {
		return s.failLocked(CaptureFailed, code)
	}
	return nil
}

// TemperatureMatrix reads n temperature samples from the device.
// Requires Streaming.
func (s *Session) TemperatureMatrix(n int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Streaming {
		return nil, s.recordErr(failDetail(CaptureFailed, "session is not streaming"))
	}
	h, _ := s.guard.Handle()
	samples, code := s.backend.TemperatureMatrix(h, n)
	if code != OK {
		return nil, s.failLocked(CaptureFailed, code)
	}
	if len(samples) != n {
		return nil, s.recordErr(failDetail(CaptureFailed, "backend returned a short matrix"))
	}
	return samples, nil
}

// Release tears the session down completely: streaming is stopped, the
// device closed, and the native handle returned.  Callable from any state;
// the session ends Uninitialized and cannot be revived.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Streaming {
		s.stopStreamLocked()
	}
	if s.state == Connected {
		h, _ := s.guard.Handle()
		if code := s.backend.Close(h); code != OK {
			log.Printf("%s: close during release returned %#x", s.name, code)
		}
		s.state = Initialized
	}
	s.guard.Release(s.backend.Uninit)
	s.state = Uninitialized
}

// Name returns the session's diagnostic name.
func (s *Session) Name() string { return s.name }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastFailure returns the most recent failure kind and raw backend code.
func (s *Session) LastFailure() (Kind, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKind, s.lastCode
}

// Connection returns a copy of the connection parameters from the last
// successful open, or nil for index-addressed cameras.
func (s *Session) Connection() *ConnectionParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	c := *s.conn
	return &c
}

// DroppedFrames returns the number of frames that arrived after their
// registration was removed, across all stream cycles.
func (s *Session) DroppedFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.dropped
	if s.reg != nil {
		n += s.reg.Dropped()
	}
	return n
}
