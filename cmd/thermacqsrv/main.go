package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.jpl.nasa.gov/bdube/thermacq/acquire"
	"github.jpl.nasa.gov/bdube/thermacq/camera"
	"github.jpl.nasa.gov/bdube/thermacq/generichttp"
	"github.jpl.nasa.gov/bdube/thermacq/guide"
	"github.jpl.nasa.gov/bdube/thermacq/hikrobot"
	"github.jpl.nasa.gov/bdube/thermacq/render"
	"github.jpl.nasa.gov/bdube/thermacq/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/thermacq/work"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "thermacq.yml"
	k              = koanf.New(".")
)

type visconfig struct {
	// Index is the camera's position in the USB enumeration list
	Index int `yaml:"Index"`
}

type irconfig struct {
	Server   string `yaml:"Server"`
	Username string `yaml:"Username"`
	Password string `yaml:"Password"`
	Port     int    `yaml:"Port"`

	// Height and Width are the temperature matrix geometry
	Height int `yaml:"Height"`
	Width  int `yaml:"Width"`
}

type config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// CameraRoot and RenderRoot are the URL stems the two route tables
	// are served under
	CameraRoot string `yaml:"CameraRoot"`
	RenderRoot string `yaml:"RenderRoot"`

	Visible  visconfig           `yaml:"Visible"`
	Infrared irconfig            `yaml:"Infrared"`
	Store    acquire.StoreConfig `yaml:"Store"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:       ":8000",
		CameraRoot: "/camera",
		RenderRoot: "/render",
		Visible:    visconfig{Index: 0},
		Infrared: irconfig{
			Server:   "192.168.1.100",
			Username: "admin",
			Password: "admin123",
			Port:     17691,
			Height:   render.DefaultHeight,
			Width:    render.DefaultWidth,
		},
		Store: acquire.DefaultStoreConfig("records")}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `thermacq-srv runs a dual camera thermal acquisition rig and exposes
it over HTTP.  This enables a server-client architecture, and the clients can
leverage the excellent HTTP libraries for any programming language.

Usage:
	thermacq-srv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `thermacq-srv is amenable to configuration via its .yaml file.  For a primer
on YAML, see https://yaml.org/start.html

The command mkconf generates the configuration file with the default values.

The visible camera is a Hikrobot USB3 device, addressed by its position in the
enumeration list.  The infrared camera is a Guide network device, addressed by
server/port and logged into with the configured credentials.  Connection
parameters are validated at startup; the server refuses to boot on values the
devices would reject.

The Store section controls where snapshot and recording artifacts land.  The
records directory is created if missing and must be writable.

Camera routes live under CameraRoot, rendering routes under RenderRoot.  GET
/endpoints lists every route.  Each subtree carries a lock; POST true to
<root>/lock to reject mutations while an acquisition must not be disturbed.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("thermacq-srv version %v\n", Version)
}

// counterSink counts the frames a camera delivers, logging periodically
// so a silent device is visible in the server log.
type counterSink struct {
	name   string
	frames uint64
}

func (s *counterSink) Frame(_ []byte, _, _ int) {
	n := atomic.AddUint64(&s.frames, 1)
	if n%500 == 0 {
		log.Printf("%s: %d frames received", s.name, n)
	}
}

func run() {
	cfg := config{}
	err := k.Unmarshal("", &cfg)
	if err != nil {
		log.Fatal(err)
	}

	// refuse bad connection parameters before touching hardware
	conn := camera.ConnectionParams{
		Server:   cfg.Infrared.Server,
		Username: cfg.Infrared.Username,
		Password: cfg.Infrared.Password,
		Port:     cfg.Infrared.Port,
	}
	conn, err = conn.Normalize()
	if err != nil {
		log.Fatal("infrared connection config: ", err)
	}

	store, err := acquire.NewStore(cfg.Store)
	if err != nil {
		log.Fatal("records store: ", err)
	}

	spin, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[59],
		Suffix:            " ",
		Message:           "initializing camera SDKs",
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
	if err != nil {
		log.Fatal(err)
	}
	spin.Start()

	spin.Message("initializing visible camera SDK")
	vis, err := camera.NewSession("visible", hikrobot.NewCamera(),
		camera.ExposureTime, camera.Gain, camera.FrameRate)
	if err != nil {
		spin.StopFail()
		log.Fatal("visible camera: ", err)
	}
	defer vis.Release()

	spin.Message("initializing infrared camera SDK")
	ir, err := camera.NewSession("infrared", guide.NewCamera(),
		camera.ColorBar, camera.ColorShow)
	if err != nil {
		spin.StopFail()
		log.Fatal("infrared camera: ", err)
	}
	defer ir.Release()
	spin.Stop()

	orch := acquire.NewOrchestrator(store, cfg.Infrared.Height, cfg.Infrared.Width)
	orch.AddCamera(acquire.RoleVisible, vis, &counterSink{name: "visible"})
	orch.AddCamera(acquire.RoleInfrared, ir, &counterSink{name: "infrared"})

	acqHTTP := acquire.NewHTTPAcquisition(orch, map[acquire.Role]camera.Selector{
		acquire.RoleVisible:  {Index: cfg.Visible.Index},
		acquire.RoleInfrared: {Conn: &conn},
	})

	pipe := render.NewPipeline()
	pipe.Height = cfg.Infrared.Height
	pipe.Width = cfg.Infrared.Width
	rendHTTP := render.NewHTTPRender(pipe, work.NewRunner())

	mux := chi.NewRouter()
	mux.Use(middleware.Logger)
	supergraph := map[string][]string{}
	for _, node := range []struct {
		stem   string
		httper generichttp.HTTPer
	}{
		{cfg.CameraRoot, acqHTTP},
		{cfg.RenderRoot, rendHTTP},
	} {
		// prepare the URL, "camera" => "/camera/*"
		hndlS := generichttp.SubMuxSanitize(node.stem)

		// add the endpoints to the graph
		supergraph[hndlS] = node.httper.RT().Endpoints()

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(node.httper, lock)

		// bind to the mux
		r := chi.NewRouter()
		r.Use(lock.Check)
		node.httper.RT().Bind(r)
		mux.Mount(hndlS, r)
	}
	mux.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	log.Println("now listening for requests at ", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
