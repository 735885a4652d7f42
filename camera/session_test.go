package camera

import (
	"testing"
)

// fakeBackend counts native calls and returns scripted codes, so tests can
// assert both the state machine's outputs and which native calls it made.
type fakeBackend struct {
	initCode   int
	openCode   int
	closeCode  int
	startCode  int
	stopCode   int
	recCode    int
	capCode    int
	getCode    int
	setCode    int
	matrixCode int

	matrix []float64
	getVal float64

	inits, uninits, opens, closes   int
	starts, stops, recs, recStops   int
	captures, gets, sets, matrixes  int
	lastSink                        FrameSink
}

func (f *fakeBackend) Init() (Handle, int) {
	f.inits++
	if f.initCode != OK {
		return 0, f.initCode
	}
	return Handle(1), OK
}

func (f *fakeBackend) Uninit(Handle) int { f.uninits++; return OK }

func (f *fakeBackend) Open(_ Handle, _ Selector) int {
	f.opens++
	return f.openCode
}

func (f *fakeBackend) Close(Handle) int { f.closes++; return f.closeCode }

func (f *fakeBackend) StartStream(_ Handle, s FrameSink) int {
	f.starts++
	if f.startCode == OK {
		f.lastSink = s
	}
	return f.startCode
}

func (f *fakeBackend) StopStream(Handle) int { f.stops++; return f.stopCode }

func (f *fakeBackend) StartRecord(Handle, string) int { f.recs++; return f.recCode }

func (f *fakeBackend) StopRecord(Handle) int { f.recStops++; return OK }

func (f *fakeBackend) GetParam(Handle, Param) (float64, int) {
	f.gets++
	return f.getVal, f.getCode
}

func (f *fakeBackend) SetParam(Handle, Param, float64) int { f.sets++; return f.setCode }

func (f *fakeBackend) Capture(Handle, CaptureKind, string) int {
	f.captures++
	return f.capCode
}

func (f *fakeBackend) TemperatureMatrix(_ Handle, n int) ([]float64, int) {
	f.matrixes++
	if f.matrixCode != OK {
		return nil, f.matrixCode
	}
	if f.matrix != nil {
		return f.matrix, OK
	}
	return make([]float64, n), OK
}

// nativeCalls sums every backend entry point, for zero-call assertions.
func (f *fakeBackend) nativeCalls() int {
	return f.inits + f.uninits + f.opens + f.closes + f.starts + f.stops +
		f.recs + f.recStops + f.captures + f.gets + f.sets + f.matrixes
}

type discardSink struct{ frames int }

func (d *discardSink) Frame([]byte, int, int) { d.frames++ }

func mustSession(t *testing.T, b Backend) *Session {
	t.Helper()
	s, err := NewSession("test", b)
	if err != nil {
		t.Fatalf("NewSession returned %v", err)
	}
	return s
}

func TestNewSessionAcquiresHandle(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if s.State() != Initialized {
		t.Errorf("state after construction was %v, want Initialized", s.State())
	}
	if fb.inits != 1 {
		t.Errorf("expected one init call, got %d", fb.inits)
	}
}

func TestNewSessionInitFailure(t *testing.T) {
	fb := &fakeBackend{initCode: 0x80000001}
	s, err := NewSession("test", fb)
	if KindOf(err) != InitFailed {
		t.Fatalf("expected InitFailed, got %v", err)
	}
	if s.State() != Uninitialized {
		t.Errorf("state after failed init was %v, want Uninitialized", s.State())
	}
	if err := s.Open(Selector{Index: 0}); KindOf(err) != NotInitialized {
		t.Errorf("Open on uninitialized session returned %v, want NotInitialized", err)
	}
	if fb.opens != 0 {
		t.Errorf("Open issued %d native open calls from Uninitialized, want 0", fb.opens)
	}
}

func TestOpenCloseRoundTrip(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatalf("Open returned %v", err)
	}
	if s.State() != Connected {
		t.Fatalf("state after Open was %v, want Connected", s.State())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned %v", err)
	}
	if s.State() != Initialized {
		t.Errorf("state after Close was %v, want Initialized", s.State())
	}
}

func TestOpenWhileConnectedIsDuplicate(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatalf("Open returned %v", err)
	}
	before := fb.opens
	err := s.Open(Selector{Index: 0})
	if !IsDuplicate(err) {
		t.Fatalf("second Open returned %v, want DuplicateOperation", err)
	}
	if fb.opens != before {
		t.Errorf("duplicate Open issued a native call")
	}
	if s.State() != Connected {
		t.Errorf("state after duplicate Open was %v, want Connected", s.State())
	}
}

func TestOpenBackendFailure(t *testing.T) {
	fb := &fakeBackend{openCode: 0x1011}
	s := mustSession(t, fb)
	err := s.Open(Selector{Index: 0})
	if KindOf(err) != ConnectFailed {
		t.Fatalf("Open returned %v, want ConnectFailed", err)
	}
	if s.State() != Initialized {
		t.Errorf("state after failed Open was %v, want Initialized", s.State())
	}
	if fb.closes != 1 {
		t.Errorf("failed Open issued %d close calls, want 1 (compensation)", fb.closes)
	}
	if _, code := s.LastFailure(); code != 0x1011 {
		t.Errorf("LastFailure code was %#x, want 0x1011", code)
	}
}

func TestOpenInvalidSelectorSkipsBackend(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	before := fb.nativeCalls()
	err := s.Open(Selector{Conn: &ConnectionParams{Server: "", Username: "u", Password: "p", Port: 80}})
	if KindOf(err) != ValidationError {
		t.Fatalf("Open with empty server returned %v, want ValidationError", err)
	}
	if fb.nativeCalls() != before {
		t.Errorf("invalid selector reached the backend")
	}
	err = s.Open(Selector{Index: -1})
	if KindOf(err) != ValidationError {
		t.Errorf("Open with negative index returned %v, want ValidationError", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.Close(); err != nil {
		t.Fatalf("Close on Initialized session returned %v", err)
	}
	if fb.closes != 0 {
		t.Errorf("Close on idle session issued %d native calls, want 0", fb.closes)
	}
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close returned %v", err)
	}
	if fb.closes != 1 {
		t.Errorf("double Close issued %d native closes, want 1", fb.closes)
	}
}

func TestCloseSwallowsBackendCode(t *testing.T) {
	fb := &fakeBackend{closeCode: 0x2002}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close returned %v, want nil even on backend rejection", err)
	}
	if s.State() != Initialized {
		t.Errorf("state after rejected Close was %v, want Initialized", s.State())
	}
}

func TestStreamLifecycle(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	sink := &discardSink{}
	if err := s.StartStream(sink); KindOf(err) != NotInitialized {
		t.Fatalf("StartStream before Open returned %v, want NotInitialized", err)
	}
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.StartStream(sink); err != nil {
		t.Fatalf("StartStream returned %v", err)
	}
	if s.State() != Streaming {
		t.Fatalf("state after StartStream was %v, want Streaming", s.State())
	}
	// frames flow through the registration to the caller's sink
	fb.lastSink.Frame(make([]byte, 4), 2, 2)
	if sink.frames != 1 {
		t.Errorf("sink received %d frames, want 1", sink.frames)
	}
	if err := s.StartStream(sink); !IsDuplicate(err) {
		t.Fatalf("second StartStream returned %v, want DuplicateOperation", err)
	}
	if s.State() != Streaming {
		t.Errorf("duplicate StartStream disturbed the state: %v", s.State())
	}
	if err := s.StopStream(); err != nil {
		t.Fatalf("StopStream returned %v", err)
	}
	if s.State() != Connected {
		t.Errorf("state after StopStream was %v, want Connected", s.State())
	}
	// a late frame after stop is counted as dropped, not delivered
	fb.lastSink.Frame(make([]byte, 4), 2, 2)
	if sink.frames != 1 {
		t.Errorf("sink received a frame after StopStream")
	}
	if s.DroppedFrames() != 1 {
		t.Errorf("DroppedFrames was %d, want 1", s.DroppedFrames())
	}
	if err := s.StopStream(); err != nil {
		t.Errorf("StopStream on idle session returned %v", err)
	}
}

func TestStartStreamFailure(t *testing.T) {
	fb := &fakeBackend{startCode: 0x3003}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	err := s.StartStream(&discardSink{})
	if KindOf(err) != StreamStartFailed {
		t.Fatalf("StartStream returned %v, want StreamStartFailed", err)
	}
	if s.State() != Connected {
		t.Errorf("state after failed StartStream was %v, want Connected", s.State())
	}
	if fb.stops != 1 {
		t.Errorf("failed StartStream issued %d stop calls, want 1 (compensation)", fb.stops)
	}
}

func TestCloseWhileStreamingStopsFirst(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.StartStream(&discardSink{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned %v", err)
	}
	if fb.stops != 1 || fb.closes != 1 {
		t.Errorf("Close while Streaming issued stops=%d closes=%d, want 1 and 1", fb.stops, fb.closes)
	}
	if s.State() != Initialized {
		t.Errorf("state after Close was %v, want Initialized", s.State())
	}
}

func TestRecordLifecycle(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.StartRecord("out.mp4"); KindOf(err) != NotInitialized {
		t.Fatalf("StartRecord before streaming returned %v, want NotInitialized", err)
	}
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.StartStream(&discardSink{}); err != nil {
		t.Fatal(err)
	}
	if err := s.StartRecord("out.mp4"); err != nil {
		t.Fatalf("StartRecord returned %v", err)
	}
	if err := s.StartRecord("out2.mp4"); !IsDuplicate(err) {
		t.Fatalf("second StartRecord returned %v, want DuplicateOperation", err)
	}
	// stopping the stream also finalizes the recording
	if err := s.StopStream(); err != nil {
		t.Fatal(err)
	}
	if fb.recStops != 1 {
		t.Errorf("StopStream finalized %d recordings, want 1", fb.recStops)
	}
}

func TestRecordStartFailed(t *testing.T) {
	fb := &fakeBackend{recCode: 0x4004}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.StartStream(&discardSink{}); err != nil {
		t.Fatal(err)
	}
	err := s.StartRecord("out.mp4")
	if KindOf(err) != RecordStartFailed {
		t.Fatalf("StartRecord returned %v, want RecordStartFailed", err)
	}
	// a failed start leaves no recording to finalize
	if err := s.StopRecord(); err != nil {
		t.Fatal(err)
	}
	if fb.recStops != 0 {
		t.Errorf("StopRecord after failed start issued %d native calls, want 0", fb.recStops)
	}
}

func TestSetParameterValidatesFirst(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	before := fb.sets
	if err := s.SetParameter(ExposureTime, 14); KindOf(err) != ValidationError {
		t.Errorf("out-of-range exposure returned %v, want ValidationError", err)
	}
	if err := s.SetParameter(ExposureTime, 100.5); KindOf(err) != ValidationError {
		t.Errorf("fractional exposure returned %v, want ValidationError", err)
	}
	if err := s.SetParameter(Gain, 18); KindOf(err) != ValidationError {
		t.Errorf("out-of-range gain returned %v, want ValidationError", err)
	}
	if fb.sets != before {
		t.Errorf("invalid parameter values reached the backend")
	}
	if err := s.SetParameter(ExposureTime, 5000); err != nil {
		t.Fatalf("SetParameter returned %v", err)
	}
	if v, ok := s.CachedParam(ExposureTime); !ok || v != 5000 {
		t.Errorf("cached exposure was %v/%v, want 5000/true", v, ok)
	}
}

func TestSetParameterWriteFailure(t *testing.T) {
	fb := &fakeBackend{setCode: 0x5005}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	err := s.SetParameter(Gain, 4)
	if KindOf(err) != ParamWriteFailed {
		t.Fatalf("SetParameter returned %v, want ParamWriteFailed", err)
	}
	if _, ok := s.CachedParam(Gain); ok {
		t.Errorf("failed write polluted the parameter cache")
	}
}

func TestCommandParamsRequireIdleConnection(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetParameter(Shutter, 1); err != nil {
		t.Fatalf("Shutter while Connected returned %v", err)
	}
	if err := s.StartStream(&discardSink{}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetParameter(Shutter, 1); KindOf(err) != NotInitialized {
		t.Errorf("Shutter while Streaming returned %v, want NotInitialized", err)
	}
	// live tunables stay writable while streaming
	if err := s.SetParameter(FrameRate, 25); err != nil {
		t.Errorf("FrameRate while Streaming returned %v", err)
	}
}

func TestCaptureRequiresStreaming(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.CaptureSnapshot(CaptureImage, "a.jpg"); KindOf(err) != CaptureFailed {
		t.Errorf("capture while Connected returned %v, want CaptureFailed", err)
	}
	if fb.captures != 0 {
		t.Errorf("capture outside Streaming reached the backend")
	}
	if err := s.StartStream(&discardSink{}); err != nil {
		t.Fatal(err)
	}
	if err := s.CaptureSnapshot(CaptureImage, "a.jpg"); err != nil {
		t.Errorf("CaptureSnapshot returned %v", err)
	}
}

func TestTemperatureMatrix(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.StartStream(&discardSink{}); err != nil {
		t.Fatal(err)
	}
	m, err := s.TemperatureMatrix(384 * 512)
	if err != nil {
		t.Fatalf("TemperatureMatrix returned %v", err)
	}
	if len(m) != 384*512 {
		t.Errorf("matrix length %d, want %d", len(m), 384*512)
	}
	fb.matrix = []float64{1, 2, 3}
	if _, err := s.TemperatureMatrix(6); KindOf(err) != CaptureFailed {
		t.Errorf("short matrix returned %v, want CaptureFailed", err)
	}
}

func TestReleaseFromAnyState(t *testing.T) {
	fb := &fakeBackend{}
	s := mustSession(t, fb)
	if err := s.Open(Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.StartStream(&discardSink{}); err != nil {
		t.Fatal(err)
	}
	s.Release()
	if s.State() != Uninitialized {
		t.Fatalf("state after Release was %v, want Uninitialized", s.State())
	}
	if fb.stops != 1 || fb.closes != 1 || fb.uninits != 1 {
		t.Errorf("Release issued stops=%d closes=%d uninits=%d, want 1 each",
			fb.stops, fb.closes, fb.uninits)
	}
	s.Release() // second release must be harmless
	if fb.uninits != 1 {
		t.Errorf("double Release issued %d uninit calls, want 1", fb.uninits)
	}
	if err := s.Open(Selector{Index: 0}); KindOf(err) != NotInitialized {
		t.Errorf("Open after Release returned %v, want NotInitialized", err)
	}
}
