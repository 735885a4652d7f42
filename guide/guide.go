/*Package guide enables working with Guide-series network infrared cameras.

The camera exposes two TCP ports: a command port speaking the framed
telegram protocol implemented in telegram.go, and a data port one above it
that carries raw 16-bit thermal frames.  The command connections are
shared through a comm.Pool because the camera's embedded stack only allows
a few concurrent sessions.

The exported surface implements the backend contract from the camera
package; integer status codes come back raw and the session layer turns
them into typed failures.
*/
package guide

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/thermacq/camera"
	"github.jpl.nasa.gov/bdube/thermacq/comm"
)

// Status codes returned by the driver.  Zero is success; the remainder
// identify which layer rejected the operation.
const (
	OK = 0

	// ErrNet is any transport failure (dial, write, read, short reply)
	ErrNet = 0x5001

	// ErrNack means the camera refused the command
	ErrNack = 0x5002

	// ErrLogin means the camera rejected the credentials
	ErrLogin = 0x5003

	// ErrBusy means the camera is servicing another controller
	ErrBusy = 0x5004

	// ErrNoFrame means no frame has arrived yet to capture
	ErrNoFrame = 0x5005

	// ErrFile is a local filesystem failure while saving an artifact
	ErrFile = 0x5006

	// ErrShortData means a reply payload was smaller than required
	ErrShortData = 0x5007
)

var codeText = map[int]string{
	OK:           "OK",
	ErrNet:       "network failure",
	ErrNack:      "command refused",
	ErrLogin:     "login rejected",
	ErrBusy:      "camera busy",
	ErrNoFrame:   "no frame received yet",
	ErrFile:      "file write failure",
	ErrShortData: "reply payload too short",
}

// Error converts a status code to a Go error, nil if the code is OK.
func Error(code int) error {
	if code == OK {
		return nil
	}
	if s, ok := codeText[code]; ok {
		return fmt.Errorf("guide: %s (code %#x)", s, code)
	}
	return fmt.Errorf("guide: unknown status code %#x", code)
}

// frame packets on the data port are
// [magic u16] [width u16] [height u16] [nbytes u32] [payload]
// all little endian, payload is width*height u16 gray samples
const frameMagic = 0x55AA

// paramRegisters maps the session-level parameter names to command
// registers.  The visible-light tunables are absent; this camera does not
// have them.
var paramRegisters = map[camera.Param]byte{
	camera.ColorBar:  RegColorBar,
	camera.ColorShow: RegColorShow,
	camera.Focus:     RegFocus,
	camera.Shutter:   RegShutter,
}

// Camera speaks to one Guide-series infrared camera.  It implements the
// backend contract consumed by camera.Session; use it through a session,
// not directly, so state preconditions are enforced.
type Camera struct {
	mu   sync.Mutex
	pool *comm.Pool
	addr string // command port, host:port

	// streaming plumbing
	dataConn net.Conn
	stop     chan struct{}
	wg       sync.WaitGroup
	sink     camera.FrameSink

	// latest frame, for snapshots
	frameMu   sync.Mutex
	lastFrame []uint16
	lastW     int
	lastH     int

	// raw stream recording
	recMu   sync.Mutex
	recFile *os.File
}

// NewCamera returns a Camera ready to be driven by a session.
func NewCamera() *Camera {
	return &Camera{}
}

// Init acquires the driver context.  There is no native library behind
// this driver, so the handle is a token.
func (c *Camera) Init() (camera.Handle, int) {
	return camera.Handle(1), OK
}

// Uninit releases the driver context.
func (c *Camera) Uninit(camera.Handle) int {
	return OK
}

// Open logs in to the camera at sel.Conn.  The data port is assumed one
// above the command port.
func (c *Camera) Open(_ camera.Handle, sel camera.Selector) int {
	if sel.Conn == nil {
		return ErrLogin
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addr = fmt.Sprintf("%s:%d", sel.Conn.Server, sel.Conn.Port)
	c.pool = comm.NewPool(2, 30*time.Second, func() (io.ReadWriteCloser, error) {
		return comm.TCPSetup(c.addr, 3*time.Second)
	})

	// login payload is [len][username] [len][password]
	data := make([]byte, 0, len(sel.Conn.Username)+len(sel.Conn.Password)+2)
	data = append(data, byte(len(sel.Conn.Username)))
	data = append(data, sel.Conn.Username...)
	data = append(data, byte(len(sel.Conn.Password)))
	data = append(data, sel.Conn.Password...)
	if code := c.writeRegLocked(RegLogin, data); code != OK {
		if code == ErrNack {
			return ErrLogin
		}
		return code
	}
	return OK
}

// Close logs out.  The logout telegram is best effort; the pool is torn
// down regardless.
func (c *Camera) Close(camera.Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := c.writeRegLocked(RegLogout, nil)
	c.pool = nil
	return code
}

// exchange round-trips one telegram on a pooled command connection.
// The caller holds c.mu.
func (c *Camera) exchange(mp MessagePrimitive) (MessagePrimitive, int) {
	if c.pool == nil {
		return MessagePrimitive{}, ErrNet
	}
	tele, err := MakeTelegram(mp)
	if err != nil {
		return MessagePrimitive{}, ErrNet
	}
	conn, err := c.pool.Get()
	if err != nil {
		return MessagePrimitive{}, ErrNet
	}
	// pooled connections outlive the deadline set at dial time
	if nc, ok := conn.(net.Conn); ok {
		nc.SetDeadline(time.Now().Add(3 * time.Second))
	}
	if _, err := conn.Write(tele); err != nil {
		c.pool.Destroy(conn)
		return MessagePrimitive{}, ErrNet
	}
	raw, err := bufio.NewReader(conn).ReadBytes(telEnd)
	if err != nil {
		c.pool.Destroy(conn)
		return MessagePrimitive{}, ErrNet
	}
	c.pool.Put(conn)
	resp, err := DecodeTelegram(raw)
	if err != nil {
		return MessagePrimitive{}, ErrNet
	}
	switch resp.Type {
	case "Nack":
		return resp, ErrNack
	case "Busy":
		return resp, ErrBusy
	}
	return resp, OK
}

func (c *Camera) writeRegLocked(reg byte, data []byte) int {
	_, code := c.exchange(MessagePrimitive{Type: "Write", Register: reg, Data: data})
	return code
}

func (c *Camera) readRegLocked(reg byte, data []byte) ([]byte, int) {
	resp, code := c.exchange(MessagePrimitive{Type: "Read", Register: reg, Data: data})
	if code != OK {
		return nil, code
	}
	return resp.Data, OK
}

// GetParam reads a command register.  Replies are u16 little endian.
func (c *Camera) GetParam(_ camera.Handle, p camera.Param) (float64, int) {
	reg, ok := paramRegisters[p]
	if !ok {
		return 0, ErrNack
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, code := c.readRegLocked(reg, nil)
	if code != OK {
		return 0, code
	}
	if len(data) < 2 {
		return 0, ErrShortData
	}
	return float64(dataOrder.Uint16(data)), OK
}

// SetParam writes a command register.
func (c *Camera) SetParam(_ camera.Handle, p camera.Param, v float64) int {
	reg, ok := paramRegisters[p]
	if !ok {
		return ErrNack
	}
	buf := make([]byte, 2)
	dataOrder.PutUint16(buf, uint16(v))
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRegLocked(reg, buf)
}

// StartStream enables frame output on the data port and spawns the pump
// that delivers frames to sink.
func (c *Camera) StartStream(_ camera.Handle, sink camera.FrameSink) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	host, portS, err := net.SplitHostPort(c.addr)
	if err != nil {
		return ErrNet
	}
	port, err := strconv.Atoi(portS)
	if err != nil {
		return ErrNet
	}
	conn, err := comm.TCPSetup(fmt.Sprintf("%s:%d", host, port+1), 3*time.Second)
	if err != nil {
		return ErrNet
	}
	// frames flow for as long as the conn is up; clear the deadlines
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	if code := c.writeRegLocked(RegStream, []byte{1, 0}); code != OK {
		conn.Close()
		return code
	}
	c.dataConn = conn
	c.stop = make(chan struct{})
	c.sink = sink
	c.wg.Add(1)
	go c.pump(conn, sink)
	return OK
}

// StopStream disables frame output and reaps the pump.
func (c *Camera) StopStream(camera.Handle) int {
	c.mu.Lock()
	if c.dataConn == nil {
		c.mu.Unlock()
		return OK
	}
	code := c.writeRegLocked(RegStream, []byte{0, 0})
	close(c.stop)
	c.dataConn.Close()
	c.mu.Unlock()
	// the pump may be mid-delivery; wait it out without the lock
	c.wg.Wait()
	c.mu.Lock()
	c.dataConn = nil
	c.sink = nil
	c.mu.Unlock()
	return code
}

// pump reads frame packets off the data port until the connection drops
// or StopStream is called.
func (c *Camera) pump(conn net.Conn, sink camera.FrameSink) {
	defer c.wg.Done()
	rdr := bufio.NewReaderSize(conn, 1<<20)
	header := make([]byte, 10)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		if _, err := io.ReadFull(rdr, header); err != nil {
			return
		}
		if dataOrder.Uint16(header[0:2]) != frameMagic {
			// lost sync with the stream, bail and let the
			// controller restart it
			return
		}
		w := int(dataOrder.Uint16(header[2:4]))
		h := int(dataOrder.Uint16(header[4:6]))
		nbytes := int(dataOrder.Uint32(header[6:10]))
		payload := make([]byte, nbytes)
		if _, err := io.ReadFull(rdr, payload); err != nil {
			return
		}
		c.storeFrame(payload, w, h)
		c.teeRecord(header, payload)
		sink.Frame(payload, w, h)
	}
}

// storeFrame keeps the latest frame as u16 samples for snapshots.
func (c *Camera) storeFrame(payload []byte, w, h int) {
	if len(payload) < w*h*2 {
		return
	}
	px := make([]uint16, w*h)
	for i := range px {
		px[i] = dataOrder.Uint16(payload[2*i:])
	}
	c.frameMu.Lock()
	c.lastFrame = px
	c.lastW = w
	c.lastH = h
	c.frameMu.Unlock()
}

// teeRecord appends the packet verbatim to the recording file, if one is
// open.  Write failures end the recording rather than the stream.
func (c *Camera) teeRecord(header, payload []byte) {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if c.recFile == nil {
		return
	}
	if _, err := c.recFile.Write(header); err != nil {
		c.recFile.Close()
		c.recFile = nil
		return
	}
	if _, err := c.recFile.Write(payload); err != nil {
		c.recFile.Close()
		c.recFile = nil
	}
}

// StartRecord begins appending raw frame packets to path.
func (c *Camera) StartRecord(_ camera.Handle, path string) int {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if c.recFile != nil {
		return ErrBusy
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

// Capture writes the latest frame to path.  CaptureImage produces a
// grayscale JPEG; CaptureHeatmap runs the samples through the iron
// palette first.
func (c *Camera) Capture(_ camera.Handle, kind camera.CaptureKind, path string) int {
	c.frameMu.Lock()
	px := c.lastFrame
	w, h := c.lastW, c.lastH
	c.frameMu.Unlock()
	if px == nil {
		return ErrNoFrame
	}

	lo, hi := px[0], px[0]
	for _, v := range px {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := int(hi) - int(lo)
	if span == 0 {
		span = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, v := range px {
		t := (int(v) - int(lo)) * 255 / span
		var cl color.RGBA
		if kind == camera.CaptureHeatmap {
			cl = ironPalette(uint8(t))
		} else {
			cl = color.RGBA{uint8(t), uint8(t), uint8(t), 255}
		}
		img.SetRGBA(i%w, i/w, cl)
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

// ironPalette maps a normalized intensity to the conventional
// black-purple-red-yellow-white thermal ramp.
func ironPalette(t uint8) color.RGBA {
	switch {
	case t < 64:
		return color.RGBA{uint8(int(t) * 2), 0, uint8(int(t) * 2), 255}
	case t < 128:
		return color.RGBA{128 + (t-64)*2, 0, uint8(128 - int(t-64)*2), 255}
	case t < 192:
		return color.RGBA{255, (t - 128) * 4, 0, 255}
	default:
		return color.RGBA{255, 255, (t - 192) * 4, 255}
	}
}

// TemperatureMatrix reads n temperature samples from the camera.  The
// payload is n i16 deci-degrees Celsius, little endian.
func (c *Camera) TemperatureMatrix(_ camera.Handle, n int) ([]float64, int) {
	req := make([]byte, 4)
	dataOrder.PutUint32(req, uint32(n))
	c.mu.Lock()
	data, code := c.readRegLocked(RegMatrix, req)
	c.mu.Unlock()
	if code != OK {
		return nil, code
	}
	if len(data) < n*2 {
		return nil, ErrShortData
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(int16(dataOrder.Uint16(data[2*i:]))) / 10.0
	}
	return out, OK
}

// Reboot power cycles the camera's processor.  The camera drops all
// connections; callers should Close and reconnect afterward.
func (c *Camera) Reboot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRegLocked(RegReboot, nil)
}
