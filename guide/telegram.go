package guide

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/snksoft/crc"
)

const (
	// telStart is the start of telegram byte
	telStart = 0x02

	// telEnd is the end of telegram byte
	telEnd = 0x03

	// escapeByte marks a framing byte embedded in the payload
	escapeByte = 0x10

	// escapeShift is the amount escaped bytes are shifted up.
	// framing bytes max out at 0x10, so we will never overflow
	escapeShift = 0x40
)

var (
	// dataOrder is the byte order used inside telegrams
	dataOrder = binary.LittleEndian

	// specialChars are the bytes that must not appear raw inside a frame
	specialChars = []byte{telStart, telEnd, escapeByte}

	crcTable = crc.NewTable(crc.XMODEM)

	// MessageTypesSB maps strings to the bytecode for the message type
	MessageTypesSB = map[string]byte{
		"Nack":  0,
		"Busy":  1,
		"Ack":   2,
		"Read":  3,
		"Write": 4,
		"Data":  5,
	}

	// MessageTypesBS maps bytecodes to the type of message received
	MessageTypesBS = map[byte]string{
		0: "Nack",
		1: "Busy",
		2: "Ack",
		3: "Read",
		4: "Write",
		5: "Data",
	}
)

// Registers on the camera's command processor.  The write registers take
// little endian payloads; the read registers reply with a Data telegram.
const (
	RegLogin     = 0x01
	RegLogout    = 0x02
	RegColorBar  = 0x10
	RegColorShow = 0x11
	RegFocus     = 0x12
	RegShutter   = 0x13
	RegStream    = 0x20
	RegRecord    = 0x21
	RegMatrix    = 0x30
	RegReboot    = 0x7F
)

// MessagePrimitive is a struct holding the raw bytes for a message before
// framing, escaping, and CRC
type MessagePrimitive struct {
	Type     string
	Register byte
	Data     []byte
}

func escape(data []byte) []byte {
	out := []byte{}
	for _, b := range data {
		if bytes.Contains(specialChars, []byte{b}) {
			out = append(out, escapeByte, b+escapeShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func unescape(data []byte) []byte {
	out := []byte{}
	subNext := false
	for _, b := range data {
		if b == escapeByte {
			// do nothing with this byte and subtract from the next one
			subNext = true
		} else {
			if subNext {
				b = b - escapeShift
			}
			out = append(out, b)
			subNext = false
		}
	}
	return out
}

func crcHelper(buf []byte) []byte {
	crcVal := crcTable.CalculateCRC(buf)
	crcBytes := make([]byte, 2)
	dataOrder.PutUint16(crcBytes, uint16(crcVal))
	return crcBytes
}

// telegrams are encoded as [STX][MESSAGE][ETX].
// the message is formatted as
// [TYPE] [REGISTER] [0..N data bytes] [CRC]
// with framing bytes inside the message escaped by DLE.

// MakeTelegram produces a telegram from the constituent pieces:
// 0.  generate the message body from the type, register and data
// 1.  compute a CRC-16 (CCITT XMODEM) over the body and append it
// 2.  escape framing bytes as implemented in escape()
// 3.  prepend [STX] and append [ETX]
func MakeTelegram(mp MessagePrimitive) ([]byte, error) {
	typ, ok := MessageTypesSB[mp.Type]
	if !ok {
		return []byte{}, fmt.Errorf("message type %s is invalid", mp.Type)
	}
	buf := append([]byte{typ, mp.Register}, mp.Data...)
	buf = append(buf, crcHelper(buf)...)
	out := append([]byte{telStart}, escape(buf)...)
	out = append(out, telEnd)
	return out, nil
}

// DecodeTelegram renders a raw byte stream into a MessagePrimitive
func DecodeTelegram(tele []byte) (MessagePrimitive, error) {
	if !bytes.Contains(tele, []byte{telStart}) {
		return MessagePrimitive{}, fmt.Errorf("telegram start byte %X not found", telStart)
	}
	iEnd := bytes.IndexByte(tele, telEnd)
	if iEnd == -1 {
		return MessagePrimitive{}, fmt.Errorf("telegram end byte %X not found", telEnd)
	}

	// drop anything outside the frame, then undo the escaping
	iStart := bytes.IndexByte(tele, telStart)
	tele = unescape(tele[iStart+1 : iEnd])
	if len(tele) < 4 {
		return MessagePrimitive{}, errors.New("telegram shorter than header plus CRC")
	}

	// pop the CRC bytes and ensure we match
	fidx := len(tele) - 2
	crcBytesRecv := tele[fidx:]
	tele = tele[:fidx]
	if !bytes.Equal(crcBytesRecv, crcHelper(tele)) {
		return MessagePrimitive{}, errors.New("CRC mismatch, data lost in transmission, camera state unknown")
	}

	typ, ok := MessageTypesBS[tele[0]]
	if !ok {
		return MessagePrimitive{}, fmt.Errorf("message type byte %X is invalid", tele[0])
	}
	return MessagePrimitive{
		Type:     typ,
		Register: tele[1],
		Data:     tele[2:],
	}, nil
}
