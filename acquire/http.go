package acquire

import (
	"encoding/json"
	"go/types"
	"log"
	"net/http"

	"github.jpl.nasa.gov/bdube/thermacq/camera"
	"github.jpl.nasa.gov/bdube/thermacq/generichttp"
	"github.jpl.nasa.gov/bdube/thermacq/server"
)

// artifactJSON mirrors Artifact with the error flattened to a string so
// the result survives JSON encoding.
type artifactJSON struct {
	Kind  string `json:"kind"`
	Role  Role   `json:"role"`
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

func snapshotJSON(res SnapshotResult) []artifactJSON {
	out := make([]artifactJSON, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		aj := artifactJSON{Kind: a.Kind, Role: a.Role, Path: a.Path}
		if a.Err != nil {
			aj.Error = a.Err.Error()
		}
		out = append(out, aj)
	}
	return out
}

// HTTPAcquisition wraps an Orchestrator in an HTTP route table.  One
// wrapper serves both cameras; per-camera routes are stemmed by role.
type HTTPAcquisition struct {
	// Orch is the wrapped orchestrator
	Orch *Orchestrator

	// selectors are the configured connect targets, keyed by role
	selectors map[Role]camera.Selector

	// RouteTable maps methods and URLs to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPAcquisition returns an HTTP wrapper around orch.  selectors
// supplies the device each role's connect route attaches to; roles
// without a selector get no connect route.
func NewHTTPAcquisition(orch *Orchestrator, selectors map[Role]camera.Selector) HTTPAcquisition {
	h := HTTPAcquisition{Orch: orch, selectors: selectors}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/state"}:         h.HTTPStates,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/begin"}:        h.HTTPBegin,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/end"}:          h.HTTPEnd,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/snapshot"}:     h.HTTPSnapshot,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/record/start"}: h.HTTPStartRecord,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/record/stop"}:  h.HTTPStopRecord,
	}
	for _, role := range []Role{RoleVisible, RoleInfrared} {
		sess := orch.Session(role)
		if sess == nil {
			continue
		}
		stem := "/" + string(role)
		if sel, ok := selectors[role]; ok {
			rt[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/connect"}] = h.connectHandler(sess, sel)
			rt[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/disconnect"}] = h.disconnectHandler(sess)
		}
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/exposure-time"}] = getParamInt(sess, camera.ExposureTime)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/exposure-time"}] = setParamInt(sess, camera.ExposureTime)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/gain"}] = getParamInt(sess, camera.Gain)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/gain"}] = setParamInt(sess, camera.Gain)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/frame-rate"}] = getParamFloat(sess, camera.FrameRate)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/frame-rate"}] = setParamFloat(sess, camera.FrameRate)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/dropped-frames"}] = droppedFrames(sess)
	}
	if ir := orch.Session(RoleInfrared); ir != nil {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/infrared/focus"}] = setParamInt(ir, camera.Focus)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/infrared/shutter"}] = commandHandler(ir, camera.Shutter)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/infrared/color-bar"}] = getParamBool(ir, camera.ColorBar)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/infrared/color-bar"}] = setParamBool(ir, camera.ColorBar)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/infrared/color-show"}] = getParamInt(ir, camera.ColorShow)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/infrared/color-show"}] = setParamInt(ir, camera.ColorShow)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPAcquisition) RT() generichttp.RouteTable {
	return h.RouteTable
}

// HTTPStates reports every session's state as a role => name JSON map
func (h HTTPAcquisition) HTTPStates(w http.ResponseWriter, r *http.Request) {
	states := h.Orch.States()
	out := make(map[Role]string, len(states))
	for role, st := range states {
		out[role] = st.String()
	}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTPBegin starts streaming on every connected camera
func (h HTTPAcquisition) HTTPBegin(w http.ResponseWriter, r *http.Request) {
	if err := h.Orch.BeginAcquisition(); err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPEnd stops streaming on every streaming camera
func (h HTTPAcquisition) HTTPEnd(w http.ResponseWriter, r *http.Request) {
	if err := h.Orch.EndAcquisition(); err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPSnapshot captures the current frames and returns the artifact
// manifest.  Partial failure is a 200 with per-artifact errors in the
// body; only a rig-wide refusal is an HTTP error.
func (h HTTPAcquisition) HTTPSnapshot(w http.ResponseWriter, r *http.Request) {
	res, err := h.Orch.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(snapshotJSON(res))
	if err != nil {
		log.Printf("error encoding snapshot manifest to json, %q", err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTPStartRecord begins recording on every streaming camera
func (h HTTPAcquisition) HTTPStartRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.Orch.StartRecording(); err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPStopRecord finalizes any recordings in progress
func (h HTTPAcquisition) HTTPStopRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.Orch.StopRecording(); err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPAcquisition) connectHandler(sess *camera.Session, sel camera.Selector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Open(sel); err != nil {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h HTTPAcquisition) disconnectHandler(sess *camera.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Close(); err != nil {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// commandHandler fires a trigger-style parameter, e.g. the shutter
// correction, which carries no meaningful value.
func commandHandler(sess *camera.Session, p camera.Param) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.SetParameter(p, 1); err != nil {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func getParamFloat(sess *camera.Session, p camera.Param) http.HandlerFunc {
	return generichttp.GetFloat(func() (float64, error) {
		return sess.GetParameter(p)
	})
}

func setParamFloat(sess *camera.Session, p camera.Param) http.HandlerFunc {
	return generichttp.SetFloat(func(v float64) error {
		return sess.SetParameter(p, v)
	})
}

func getParamInt(sess *camera.Session, p camera.Param) http.HandlerFunc {
	return generichttp.GetInt(func() (int, error) {
		v, err := sess.GetParameter(p)
		return int(v), err
	})
}

func setParamInt(sess *camera.Session, p camera.Param) http.HandlerFunc {
	return generichttp.SetInt(func(v int) error {
		return sess.SetParameter(p, float64(v))
	})
}

func getParamBool(sess *camera.Session, p camera.Param) http.HandlerFunc {
	return generichttp.GetBool(func() (bool, error) {
		v, err := sess.GetParameter(p)
		return v != 0, err
	})
}

func setParamBool(sess *camera.Session, p camera.Param) http.HandlerFunc {
	return generichttp.SetBool(func(b bool) error {
		v := 0.0
		if b {
			v = 1
		}
		return sess.SetParameter(p, v)
	})
}

func droppedFrames(sess *camera.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hp := server.HumanPayload{T: types.Int, Int: int(sess.DroppedFrames())}
		hp.EncodeAndRespond(w, r)
	}
}

// statusOf maps the failure taxonomy onto HTTP status codes.  Input
// validation is the client's fault; refusals of out-of-order operations
// are conflicts; everything else is a device-side 500.
func statusOf(err error) int {
	switch camera.KindOf(err) {
	case camera.ValidationError:
		return http.StatusBadRequest
	case camera.DuplicateOperation:
		return http.StatusConflict
	case camera.NoDeviceReady, camera.NotInitialized:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
