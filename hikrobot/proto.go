package hikrobot

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	reserved = 0x00

	// message IDs on the control endpoint
	msgWriteReg = 0x01
	msgReadReg  = 0x02
	msgAck      = 0x03

	// control registers.  Floating point values are written as
	// thousandths (milli-units) in a u32.
	RegExposure  = 0x0100 // microseconds
	RegGain      = 0x0104 // milli-dB
	RegFrameRate = 0x0108 // milli-fps
	RegAcqCtl    = 0x010C // 1 start, 0 stop
	RegRecCtl    = 0x0110 // 1 start, 0 stop

	// milli is the fixed-point scale used on the wire
	milli = 1000
)

var dataOrder = binary.LittleEndian

// frame leaders on the stream endpoint are
// [magic u32] [width u16] [height u16] [nbytes u32]
// payload is nbytes of 8-bit gray samples
const (
	frameMagic  = 0x564D4B48
	leaderSize  = 12
	headerSize  = 12
	maxFrameDim = 1 << 14
)

// tagGen is a concurrent-safe transaction tag generator.  Tags are a
// single byte, nonzero, incrementing with each message.
type tagGen struct {
	sync.Mutex
	value byte
}

func (t *tagGen) next() byte {
	t.Lock()
	defer t.Unlock()
	t.value++
	if t.value == 0 {
		t.value = 1
	}
	return t.value
}

// invTag computes the bitwise inversion of a tag, used as a transmission
// integrity check in byte 2 of every header
func invTag(b byte) byte {
	return b ^ 0xff
}

// encCommand creates the 12 byte control header.
/* data map by offset:
0 MsgID, one of the msg constants above
1 tag, a single byte 1 <= x <= 255, incrementing with each message
2 tagInverse, the bitwise inverse of tag
3 reserved (0x00)
4-7 register, LSB first
8-11 value, LSB first; ignored by the device for reads
*/
func encCommand(tags *tagGen, msg byte, register, value uint32) [headerSize]byte {
	var out [headerSize]byte
	tag := tags.next()
	out[0] = msg
	out[1] = tag
	out[2] = invTag(tag)
	out[3] = reserved
	dataOrder.PutUint32(out[4:8], register)
	dataOrder.PutUint32(out[8:12], value)
	return out
}

// decReply validates an ack header and extracts the value field.
func decReply(buf []byte) (uint32, error) {
	if len(buf) < headerSize {
		return 0, fmt.Errorf("reply is %d bytes, need %d to form a header", len(buf), headerSize)
	}
	if buf[0] != msgAck {
		return 0, fmt.Errorf("reply message ID %#x is not an ack", buf[0])
	}
	if invTag(buf[1]) != buf[2] {
		return 0, fmt.Errorf("reply tag %#x fails its inversion check", buf[1])
	}
	return dataOrder.Uint32(buf[8:12]), nil
}

// decLeader validates a frame leader and extracts the geometry.
func decLeader(buf []byte) (w, h, nbytes int, err error) {
	if len(buf) < leaderSize {
		return 0, 0, 0, fmt.Errorf("leader is %d bytes, need %d", len(buf), leaderSize)
	}
	if dataOrder.Uint32(buf[0:4]) != frameMagic {
		return 0, 0, 0, fmt.Errorf("leader magic %#x is wrong, lost sync with stream", dataOrder.Uint32(buf[0:4]))
	}
	w = int(dataOrder.Uint16(buf[4:6]))
	h = int(dataOrder.Uint16(buf[6:8]))
	nbytes = int(dataOrder.Uint32(buf[8:12]))
	if w == 0 || h == 0 || w > maxFrameDim || h > maxFrameDim {
		return 0, 0, 0, fmt.Errorf("leader geometry %dx%d is implausible", w, h)
	}
	return w, h, nbytes, nil
}
