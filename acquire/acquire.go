/*Package acquire coordinates the two camera sessions as one acquisition.

The orchestrator never talks to hardware itself; it sequences session
operations and owns the all-or-nothing semantics of "start acquisition"
across cameras that can fail independently.  Snapshot artifacts go
through the Store, which owns the records directory and naming.
*/
package acquire

import (
	"log"
	"sync"

	"github.jpl.nasa.gov/bdube/thermacq/camera"
)

// Role names a camera's function in the rig.
type Role string

// The two camera roles.
const (
	RoleVisible  Role = "visible"
	RoleInfrared Role = "infrared"
)

// member pairs a session with the sink its frames go to while acquiring.
type member struct {
	role Role
	sess *camera.Session
	sink camera.FrameSink
}

// Artifact is one file a snapshot attempted to produce.
type Artifact struct {
	// Kind is "image", "heatmap" or "matrix"
	Kind string

	// Role is the camera that produced it
	Role Role

	// Path is where it was written, empty on failure
	Path string

	// Err is the per-artifact failure, nil on success
	Err error
}

// SnapshotResult aggregates the artifacts of one snapshot across both
// cameras.  Partial success is normal; callers inspect per-artifact
// errors rather than one boolean.
type SnapshotResult struct {
	Artifacts []Artifact
}

// OK reports whether every attempted artifact succeeded.
func (r SnapshotResult) OK() bool {
	for _, a := range r.Artifacts {
		if a.Err != nil {
			return false
		}
	}
	return true
}

// Orchestrator sequences compound operations over the camera sessions.
// All methods serialize on one mutex; acquisition control is inherently
// single-threaded.
type Orchestrator struct {
	mu      sync.Mutex
	members []member
	store   *Store

	// matrix geometry for the infrared camera
	height, width int
}

// NewOrchestrator creates an orchestrator writing artifacts through
// store, expecting height x width temperature matrices.
func NewOrchestrator(store *Store, height, width int) *Orchestrator {
	return &Orchestrator{store: store, height: height, width: width}
}

// AddCamera registers a session under role.  sink receives the camera's
// frames while acquisition runs.  Registration order fixes the order
// compound operations visit the cameras.
func (o *Orchestrator) AddCamera(role Role, sess *camera.Session, sink camera.FrameSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.members = append(o.members, member{role: role, sess: sess, sink: sink})
}

// Session returns the session registered under role, nil if absent.
func (o *Orchestrator) Session(role Role) *camera.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.members {
		if m.role == role {
			return m.sess
		}
	}
	return nil
}

// States reports every registered session's current state.
func (o *Orchestrator) States() map[Role]camera.SessionState {
	o.mu.Lock()
	members := append([]member(nil), o.members...)
	o.mu.Unlock()
	out := make(map[Role]camera.SessionState, len(members))
	for _, m := range members {
		out[m.role] = m.sess.State()
	}
	return out
}

// BeginAcquisition starts streaming on every connected session.
// Sessions not connected are skipped; zero connected sessions is
// NoDeviceReady and issues no backend call.  If a later session fails to
// start, the ones already started are stopped again, so acquisition is
// running on all usable cameras or none.
func (o *Orchestrator) BeginAcquisition() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var connected []member
	for _, m := range o.members {
		if m.sess.State() == camera.Connected {
			connected = append(connected, m)
		}
	}
	if len(connected) == 0 {
		return camera.Failure{Kind: camera.NoDeviceReady, Detail: "no session is connected"}
	}

	var started []member
	for _, m := range connected {
		if err := m.sess.StartStream(m.sink); err != nil {
			// undo the cameras already rolling before reporting
			for _, s := range started {
				if serr := s.sess.StopStream(); serr != nil {
					log.Printf("acquire: rollback of %s failed: %v", s.role, serr)
				}
			}
			return err
		}
		started = append(started, m)
	}
	return nil
}

// EndAcquisition stops every streaming session.  Stop failures are
// logged and do not prevent stopping the rest; teardown must never get
// stuck behind one camera.  Ending when nothing streams is reported as a
// duplicate, which callers treat as informational.
func (o *Orchestrator) EndAcquisition() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	stopped := 0
	for _, m := range o.members {
		if m.sess.State() != camera.Streaming {
			continue
		}
		if err := m.sess.StopStream(); err != nil {
			log.Printf("acquire: stopping %s: %v", m.role, err)
		}
		stopped++
	}
	if stopped == 0 {
		return camera.Failure{Kind: camera.DuplicateOperation, Detail: "no session is streaming"}
	}
	return nil
}

// Snapshot captures every enabled artifact from every streaming session.
// Each artifact is attempted independently; the result carries the
// per-artifact outcomes.  Zero streaming sessions is NoDeviceReady.
func (o *Orchestrator) Snapshot() (SnapshotResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var res SnapshotResult
	streaming := 0
	cfg := o.store.Config()
	for _, m := range o.members {
		if m.sess.State() != camera.Streaming {
			continue
		}
		streaming++
		switch m.role {
		case RoleVisible:
			if cfg.SaveImage {
				p := o.store.ImagePath()
				err := m.sess.CaptureSnapshot(camera.CaptureImage, p)
				res.Artifacts = append(res.Artifacts, artifact("image", m.role, p, err))
			}
		case RoleInfrared:
			if cfg.SaveHeatmap {
				p := o.store.HeatmapPath()
				err := m.sess.CaptureSnapshot(camera.CaptureHeatmap, p)
				res.Artifacts = append(res.Artifacts, artifact("heatmap", m.role, p, err))
			}
			if cfg.SaveMatrix {
				samples, err := m.sess.TemperatureMatrix(o.height * o.width)
				var p string
				if err == nil {
					// extraction succeeded; a serialization failure
					// still fails the artifact as a whole
					p, err = o.store.WriteMatrix(samples, o.height, o.width)
				}
				res.Artifacts = append(res.Artifacts, artifact("matrix", m.role, p, err))
			}
		}
	}
	if streaming == 0 {
		return res, camera.Failure{Kind: camera.NoDeviceReady, Detail: "no session is streaming"}
	}
	return res, nil
}

func artifact(kind string, role Role, path string, err error) Artifact {
	a := Artifact{Kind: kind, Role: role, Err: err}
	if err == nil {
		a.Path = path
	}
	return a
}

// StartRecording begins a recording on every streaming session, one file
// per camera in the records directory.  A failure on one camera stops
// the recordings already started, mirroring BeginAcquisition.
func (o *Orchestrator) StartRecording() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var started []member
	count := 0
	for _, m := range o.members {
		if m.sess.State() != camera.Streaming {
			continue
		}
		count++
		if err := m.sess.StartRecord(o.store.RecordPath(string(m.role))); err != nil {
			for _, s := range started {
				if serr := s.sess.StopRecord(); serr != nil {
					log.Printf("acquire: record rollback of %s failed: %v", s.role, serr)
				}
			}
			return err
		}
		started = append(started, m)
	}
	if count == 0 {
		return camera.Failure{Kind: camera.NoDeviceReady, Detail: "no session is streaming"}
	}
	return nil
}

// StopRecording finalizes every running recording, best-effort.
func (o *Orchestrator) StopRecording() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.members {
		if err := m.sess.StopRecord(); err != nil {
			log.Printf("acquire: stopping recording on %s: %v", m.role, err)
		}
	}
	return nil
}

// Release tears down every session, called once at process shutdown.
func (o *Orchestrator) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.members {
		m.sess.Release()
	}
}
