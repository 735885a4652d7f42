package render

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"

	"github.jpl.nasa.gov/bdube/thermacq/camera"
	"github.jpl.nasa.gov/bdube/thermacq/generichttp"
	"github.jpl.nasa.gov/bdube/thermacq/work"
)

// Slots rendering tasks run in.  Single-document and directory renders
// occupy separate slots so a long directory sweep does not block quick
// one-off renders.
const (
	SlotFile = "render-file"
	SlotDir  = "render-dir"
)

// renderRequest is the POST /render body.
type renderRequest struct {
	// Path is the document or directory to render
	Path string `json:"path"`

	// FITS also writes a FITS cube beside each JPEG when true
	FITS bool `json:"fits"`
}

// jobStatus is the reportable state of one render task.
type jobStatus struct {
	ID        string            `json:"id"`
	Slot      string            `json:"slot"`
	Done      bool              `json:"done"`
	Error     string            `json:"error,omitempty"`
	Processed int               `json:"processed"`
	Total     int               `json:"total"`
	LastImage string            `json:"lastImage,omitempty"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// HTTPRender wraps a Pipeline and a task runner in an HTTP route table.
// Renders run in the background; clients poll /status for progress.
type HTTPRender struct {
	// Pipeline supplies the geometry applied to each job
	Pipeline *Pipeline

	// Runner owns the render slots
	Runner *work.Runner

	// RouteTable maps methods and URLs to handlers
	RouteTable generichttp.RouteTable

	mu   sync.Mutex
	jobs map[string]*jobStatus
}

// NewHTTPRender returns an HTTP wrapper around p, running jobs on runner.
func NewHTTPRender(p *Pipeline, runner *work.Runner) *HTTPRender {
	h := &HTTPRender{Pipeline: p, Runner: runner, jobs: map[string]*jobStatus{}}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/render"}: h.HTTPSubmit,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:  h.HTTPStatus,
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPRender) RT() generichttp.RouteTable {
	return h.RouteTable
}

// HTTPSubmit accepts a render request and starts it in the background.
// The reply carries the task ID to poll /status with.  A busy slot is a
// 409; the caller retries after the running job finishes.
func (h *HTTPRender) HTTPSubmit(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	fi, err := os.Stat(req.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slot := SlotFile
	if fi.IsDir() {
		slot = SlotDir
	}

	// each job gets its own pipeline copy so the FITS toggle is
	// per-request rather than racing on the shared one
	p := *h.Pipeline
	p.WriteFITS = req.FITS

	task, err := h.Runner.Submit(slot, func(report func(interface{})) error {
		res, err := p.Render(req.Path, func(pr Progress) { report(pr) })
		if err != nil {
			return err
		}
		// the result rides the event stream so track() can attribute
		// per-document failures to the right job
		report(res)
		return nil
	})
	if err != nil {
		if camera.IsDuplicate(err) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.jobs[task.ID] = &jobStatus{ID: task.ID, Slot: task.Slot}
	h.mu.Unlock()
	go h.track(task)

	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(map[string]string{"id": task.ID, "slot": task.Slot})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTPStatus reports every known job, finished ones included.
func (h *HTTPRender) HTTPStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	out := make([]jobStatus, 0, len(h.jobs))
	for _, j := range h.jobs {
		out = append(out, *j)
	}
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// track drains a task's events into the status map.
func (h *HTTPRender) track(t work.Task) {
	for ev := range t.Events {
		h.mu.Lock()
		j := h.jobs[t.ID]
		if j == nil {
			h.mu.Unlock()
			continue
		}
		if ev.Terminal {
			j.Done = true
			if ev.Err != nil {
				j.Error = ev.Err.Error()
			}
			h.mu.Unlock()
			continue
		}
		switch pl := ev.Payload.(type) {
		case Progress:
			j.Processed = pl.Processed
			j.Total = pl.Total
			j.LastImage = pl.OutputPath
		case Result:
			j.Processed = pl.Processed
			j.LastImage = pl.LastImage
			if len(pl.Failures) > 0 {
				fails := make(map[string]string, len(pl.Failures))
				for doc, err := range pl.Failures {
					fails[doc] = err.Error()
				}
				j.Failures = fails
			}
		}
		h.mu.Unlock()
	}
}
