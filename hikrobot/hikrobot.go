/*Package hikrobot controls Hikrobot machine vision cameras over USB.

The camera presents two bulk endpoints: a control endpoint that answers
fixed 12-byte command headers, and a stream endpoint carrying frame
packets while acquisition is running.  Like the infrared driver, the
exported surface implements the backend contract from the camera package
and hands raw integer status codes up to the session layer.

Frame delivery to the registered sink is paced with a token bucket so a
camera misconfigured to a higher rate than requested cannot flood the
consumer.
*/
package hikrobot

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"sync"

	"github.com/google/gousb"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/thermacq/camera"
)

// vendorID is Hikrobot's USB vendor ID
const vendorID = 0x2BDF

// Status codes returned by the driver, following the vendor convention of
// 0x8000xxxx for errors.
const (
	OK = 0

	// ErrHandle means the driver context is missing or torn down
	ErrHandle = 0x80000001

	// ErrNoDevice means enumeration did not find the requested camera
	ErrNoDevice = 0x80000004

	// ErrUSB is any bulk transfer failure
	ErrUSB = 0x80000006

	// ErrNoData means no frame has arrived yet to capture
	ErrNoData = 0x80000007

	// ErrParam means the camera rejected the register access
	ErrParam = 0x8000000C

	// ErrFile is a local filesystem failure while saving an artifact
	ErrFile = 0x80000010

	// ErrSupport means the operation does not exist on this camera
	ErrSupport = 0x80000014
)

var codeText = map[int]string{
	OK:          "OK",
	ErrHandle:   "driver context missing",
	ErrNoDevice: "no camera at the requested index",
	ErrUSB:      "bulk transfer failure",
	ErrNoData:   "no frame received yet",
	ErrParam:    "register access rejected",
	ErrFile:     "file write failure",
	ErrSupport:  "operation not supported",
}

// Error converts a status code to a Go error, nil if the code is OK.
func Error(code int) error {
	if code == OK {
		return nil
	}
	if s, ok := codeText[code]; ok {
		return fmt.Errorf("hikrobot: %s (code %#x)", s, code)
	}
	return fmt.Errorf("hikrobot: unknown status code %#x", code)
}

// paramRegisters maps session parameter names to control registers
var paramRegisters = map[camera.Param]uint32{
	camera.ExposureTime: RegExposure,
	camera.Gain:         RegGain,
	camera.FrameRate:    RegFrameRate,
}

// paramScale is the wire scale per parameter.  Exposure is written in
// plain microseconds; gain and frame rate are milli-units.
var paramScale = map[camera.Param]float64{
	camera.ExposureTime: 1,
	camera.Gain:         milli,
	camera.FrameRate:    milli,
}

// Camera speaks to one Hikrobot camera.  It implements the backend
// contract consumed by camera.Session; use it through a session so state
// preconditions are enforced.
type Camera struct {
	mu   sync.Mutex
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	done func()
	ctrl struct {
		in  *gousb.InEndpoint
		out *gousb.OutEndpoint
	}
	stream *gousb.InEndpoint
	tags   tagGen

	// streaming plumbing
	stop    chan struct{}
	wg      sync.WaitGroup
	limiter *rate.Limiter

	// latest frame, for snapshots
	frameMu   sync.Mutex
	lastFrame []byte
	lastW     int
	lastH     int

	// MJPEG recording
	recMu   sync.Mutex
	recFile *os.File
}

// NewCamera returns a Camera ready to be driven by a session.
func NewCamera() *Camera {
	return &Camera{}
}

// Init acquires the USB context.
func (c *Camera) Init() (camera.Handle, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		c.ctx = gousb.NewContext()
	}
	return camera.Handle(1), OK
}

// Uninit releases the USB context.
func (c *Camera) Uninit(camera.Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		c.ctx.Close()
		c.ctx = nil
	}
	return OK
}

// Open claims the sel.Index'th Hikrobot camera on the bus and prepares
// its endpoints.  Enumeration order follows bus positions, matching the
// vendor tooling.
func (c *Camera) Open(_ camera.Handle, sel camera.Selector) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return ErrHandle
	}
	seen := 0
	devs, _ := c.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != gousb.ID(vendorID) {
			return false
		}
		take := seen == sel.Index
		seen++
		return take
	})
	// OpenDevices returns every device it opened even on partial error;
	// close the strays
	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil {
			dev = d
		} else {
			d.Close()
		}
	}
	if dev == nil {
		return ErrNoDevice
	}
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return ErrUSB
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		return ErrUSB
	}
	c.ctrl.in, err = intf.InEndpoint(1)
	if err == nil {
		c.ctrl.out, err = intf.OutEndpoint(1)
	}
	if err == nil {
		c.stream, err = intf.InEndpoint(2)
	}
	if err != nil {
		done()
		dev.Close()
		return ErrUSB
	}
	c.dev = dev
	c.intf = intf
	c.done = done
	return OK
}

// Close releases the interface and device.
func (c *Camera) Close(camera.Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return OK
	}
	c.done()
	err := c.dev.Close()
	c.dev = nil
	c.intf = nil
	c.stream = nil
	c.ctrl.in = nil
	c.ctrl.out = nil
	if err != nil {
		return ErrUSB
	}
	return OK
}

// command round-trips one control header.  The caller holds c.mu.
func (c *Camera) command(msg byte, register, value uint32) (uint32, int) {
	if c.ctrl.out == nil {
		return 0, ErrHandle
	}
	hdr := encCommand(&c.tags, msg, register, value)
	if _, err := c.ctrl.out.Write(hdr[:]); err != nil {
		return 0, ErrUSB
	}
	buf := make([]byte, headerSize)
	n, err := c.ctrl.in.Read(buf)
	if err != nil {
		return 0, ErrUSB
	}
	v, err := decReply(buf[:n])
	if err != nil {
		return 0, ErrParam
	}
	return v, OK
}

// GetParam reads a tunable from the camera.
func (c *Camera) GetParam(_ camera.Handle, p camera.Param) (float64, int) {
	reg, ok := paramRegisters[p]
	if !ok {
		return 0, ErrSupport
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, code := c.command(msgReadReg, reg, 0)
	if code != OK {
		return 0, code
	}
	return float64(v) / paramScale[p], OK
}

// SetParam writes a tunable to the camera.  A frame rate write also
// retunes the delivery pacer if the stream is up.
func (c *Camera) SetParam(_ camera.Handle, p camera.Param, v float64) int {
	reg, ok := paramRegisters[p]
	if !ok {
		return ErrSupport
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, code := c.command(msgWriteReg, reg, uint32(v*paramScale[p])); code != OK {
		return code
	}
	if p == camera.FrameRate && c.limiter != nil {
		c.limiter.SetLimit(rate.Limit(v))
	}
	return OK
}

// StartStream begins acquisition and spawns the pump that delivers frames
// to sink.
func (c *Camera) StartStream(_ camera.Handle, sink camera.FrameSink) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return ErrHandle
	}
	fps := camera.FrameRateMax
	if v, code := c.command(msgReadReg, RegFrameRate, 0); code == OK && v > 0 {
		fps = float64(v) / milli
	}
	if _, code := c.command(msgWriteReg, RegAcqCtl, 1); code != OK {
		return code
	}
	c.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.pump(c.stream, c.limiter, sink)
	return OK
}

// StopStream ends acquisition and reaps the pump.
func (c *Camera) StopStream(camera.Handle) int {
	c.mu.Lock()
	if c.stop == nil {
		c.mu.Unlock()
		return OK
	}
	_, code := c.command(msgWriteReg, RegAcqCtl, 0)
	close(c.stop)
	c.mu.Unlock()
	c.wg.Wait()
	c.mu.Lock()
	c.stop = nil
	c.limiter = nil
	c.mu.Unlock()
	return code
}

// pump reads frame packets off the stream endpoint until acquisition
// stops.  Frames beyond the configured rate are dropped at the leader,
// not delivered late.
func (c *Camera) pump(ep *gousb.InEndpoint, limiter *rate.Limiter, sink camera.FrameSink) {
	defer c.wg.Done()
	leader := make([]byte, leaderSize)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		if _, err := io.ReadFull(epReader{ep}, leader); err != nil {
			return
		}
		w, h, nbytes, err := decLeader(leader)
		if err != nil {
			return
		}
		payload := make([]byte, nbytes)
		if _, err := io.ReadFull(epReader{ep}, payload); err != nil {
			return
		}
		if !limiter.Allow() {
			continue
		}
		c.storeFrame(payload, w, h)
		c.teeRecord(payload, w, h)
		sink.Frame(payload, w, h)
	}
}

// epReader adapts a bulk in endpoint to io.Reader for io.ReadFull.
type epReader struct {
	ep *gousb.InEndpoint
}

func (r epReader) Read(p []byte) (int, error) {
	return r.ep.Read(p)
}

func (c *Camera) storeFrame(payload []byte, w, h int) {
	c.frameMu.Lock()
	c.lastFrame = payload
	c.lastW = w
	c.lastH = h
	c.frameMu.Unlock()
}

// teeRecord appends the frame to the MJPEG recording, if one is open.
// Encode failures end the recording rather than the stream.
func (c *Camera) teeRecord(payload []byte, w, h int) {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if c.recFile == nil {
		return
	}
	img := grayImage(payload, w, h)
	if img == nil {
		return
	}
	if err := jpeg.Encode(c.recFile, img, &jpeg.Options{Quality: 85}); err != nil {
		c.recFile.Close()
		c.recFile = nil
	}
}

// StartRecord begins appending JPEG frames to path (an MJPEG stream).
func (c *Camera) StartRecord(_ camera.Handle, path string) int {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if c.recFile != nil {
		return ErrParam
	}
	f, err := os.Create(path)
	if err != nil {
		return ErrFile
	}
	c.recFile = f
	return OK
}

// StopRecord finalizes the recording file.
func (c *Camera) StopRecord(camera.Handle) int {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if c.recFile == nil {
		return OK
	}
	err := c.recFile.Close()
	c.recFile = nil
	if err != nil {
		return ErrFile
	}
	return OK
}

// grayImage wraps an 8-bit gray payload as an image without copying.
func grayImage(payload []byte, w, h int) *image.Gray {
	if len(payload) < w*h {
		return nil
	}
	return &image.Gray{Pix: payload, Stride: w, Rect: image.Rect(0, 0, w, h)}
}

// Capture writes the latest frame to path as a JPEG.  Heatmap and matrix
// artifacts do not exist on a visible-light camera.
func (c *Camera) Capture(_ camera.Handle, kind camera.CaptureKind, path string) int {
	if kind != camera.CaptureImage {
		return ErrSupport
	}
	c.frameMu.Lock()
	payload := c.lastFrame
	w, h := c.lastW, c.lastH
	c.frameMu.Unlock()
	if payload == nil {
		return ErrNoData
	}
	img := grayImage(payload, w, h)
	if img == nil {
		return ErrNoData
	}
	f, err := os.Create(path)
	if err != nil {
		return ErrFile
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		return ErrFile
	}
	return OK
}

// TemperatureMatrix exists to satisfy the backend contract; visible-light
// cameras have no thermography.
func (c *Camera) TemperatureMatrix(camera.Handle, int) ([]float64, int) {
	return nil, ErrSupport
}
