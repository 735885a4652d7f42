package acquire

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.jpl.nasa.gov/bdube/thermacq/camera"
)

// httpRig binds an orchestrator's routes to a router and returns a test
// server for it.
func httpRig(t *testing.T, visState, irState camera.SessionState) (*httptest.Server, *Orchestrator) {
	t.Helper()
	o, _, _ := rig(t, visState, irState)
	h := NewHTTPAcquisition(o, map[Role]camera.Selector{
		RoleVisible:  {Index: 0},
		RoleInfrared: {Index: 0},
	})
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, o
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPStates(t *testing.T) {
	srv, _ := httpRig(t, camera.Connected, camera.Initialized)
	resp, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var states map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		t.Fatal(err)
	}
	if states["visible"] != "Connected" {
		t.Errorf("visible state reported %q, want Connected", states["visible"])
	}
	if states["infrared"] != "Initialized" {
		t.Errorf("infrared state reported %q, want Initialized", states["infrared"])
	}
}

func TestHTTPBeginEndLifecycle(t *testing.T) {
	srv, o := httpRig(t, camera.Connected, camera.Connected)
	if resp := post(t, srv.URL+"/begin", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("begin returned %d", resp.StatusCode)
	}
	if st := o.States()[RoleVisible]; st != camera.Streaming {
		t.Fatalf("visible in state %v after begin, want Streaming", st)
	}
	if resp := post(t, srv.URL+"/end", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("end returned %d", resp.StatusCode)
	}
	// nothing left streaming, a second end is a conflict
	if resp := post(t, srv.URL+"/end", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("second end returned %d, want 409", resp.StatusCode)
	}
}

func TestHTTPBeginNoDeviceReady(t *testing.T) {
	srv, _ := httpRig(t, camera.Initialized, camera.Initialized)
	if resp := post(t, srv.URL+"/begin", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("begin with no connected camera returned %d, want 409", resp.StatusCode)
	}
}

func TestHTTPSnapshotManifest(t *testing.T) {
	srv, _ := httpRig(t, camera.Streaming, camera.Streaming)
	resp := post(t, srv.URL+"/snapshot", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot returned %d", resp.StatusCode)
	}
	var manifest []artifactJSON
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		t.Fatal(err)
	}
	kinds := map[string]bool{}
	for _, a := range manifest {
		if a.Error != "" {
			t.Errorf("artifact %s/%s failed: %s", a.Role, a.Kind, a.Error)
		}
		kinds[a.Kind] = true
	}
	for _, k := range []string{"image", "heatmap", "matrix"} {
		if !kinds[k] {
			t.Errorf("manifest missing %q artifact", k)
		}
	}
}

func TestHTTPSnapshotNotStreaming(t *testing.T) {
	srv, _ := httpRig(t, camera.Connected, camera.Connected)
	if resp := post(t, srv.URL+"/snapshot", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("snapshot while idle returned %d, want 409", resp.StatusCode)
	}
}

func TestHTTPConnectDisconnect(t *testing.T) {
	srv, o := httpRig(t, camera.Initialized, camera.Initialized)
	if resp := post(t, srv.URL+"/visible/connect", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("connect returned %d", resp.StatusCode)
	}
	if st := o.Session(RoleVisible).State(); st != camera.Connected {
		t.Fatalf("session in state %v after connect, want Connected", st)
	}
	if resp := post(t, srv.URL+"/visible/disconnect", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("disconnect returned %d", resp.StatusCode)
	}
	// connecting twice is a conflict
	post(t, srv.URL+"/visible/connect", "")
	if resp := post(t, srv.URL+"/visible/connect", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate connect returned %d, want 409", resp.StatusCode)
	}
}

func TestHTTPExposureTimeRoundTrip(t *testing.T) {
	srv, o := httpRig(t, camera.Connected, camera.Connected)
	if resp := post(t, srv.URL+"/visible/exposure-time", `{"int": 5000}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("set exposure returned %d", resp.StatusCode)
	}
	if v, ok := o.Session(RoleVisible).CachedParam(camera.ExposureTime); !ok || v != 5000 {
		t.Errorf("cached exposure = %v, %v after set, want 5000", v, ok)
	}
	resp, err := http.Get(srv.URL + "/visible/exposure-time")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get exposure returned %d", resp.StatusCode)
	}
}

func TestHTTPExposureTimeRejectsOutOfRange(t *testing.T) {
	srv, o := httpRig(t, camera.Connected, camera.Connected)
	resp := post(t, srv.URL+"/visible/exposure-time", `{"int": 14}`)
	if resp.StatusCode == http.StatusOK {
		t.Fatal("out-of-range exposure accepted")
	}
	if _, ok := o.Session(RoleVisible).CachedParam(camera.ExposureTime); ok {
		t.Error("rejected write polluted the parameter cache")
	}
}

func TestHTTPShutterRequiresIdleConnection(t *testing.T) {
	srv, _ := httpRig(t, camera.Connected, camera.Connected)
	if resp := post(t, srv.URL+"/infrared/shutter", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("shutter while connected returned %d", resp.StatusCode)
	}
	post(t, srv.URL+"/begin", "")
	if resp := post(t, srv.URL+"/infrared/shutter", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("shutter while streaming returned %d, want 409", resp.StatusCode)
	}
}
