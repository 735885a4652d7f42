package guide

import (
	"bytes"
	"testing"
)

func TestTelegramRoundTrip(t *testing.T) {
	mp := MessagePrimitive{
		Type:     "Write",
		Register: RegColorShow,
		Data:     []byte{0x05, 0x00},
	}
	tele, err := MakeTelegram(mp)
	if err != nil {
		t.Fatalf("MakeTelegram returned %v", err)
	}
	if tele[0] != telStart || tele[len(tele)-1] != telEnd {
		t.Fatalf("telegram not framed: % X", tele)
	}
	out, err := DecodeTelegram(tele)
	if err != nil {
		t.Fatalf("DecodeTelegram returned %v", err)
	}
	if out.Type != mp.Type || out.Register != mp.Register || !bytes.Equal(out.Data, mp.Data) {
		t.Errorf("round trip mangled the message: %+v", out)
	}
}

func TestTelegramEscapesFramingBytes(t *testing.T) {
	// a payload containing STX, ETX and DLE must survive framing
	mp := MessagePrimitive{
		Type:     "Write",
		Register: RegFocus,
		Data:     []byte{telStart, telEnd, escapeByte, 0x42},
	}
	tele, err := MakeTelegram(mp)
	if err != nil {
		t.Fatal(err)
	}
	// no raw framing byte may appear inside the frame
	body := tele[1 : len(tele)-1]
	if bytes.IndexByte(body, telStart) != -1 || bytes.IndexByte(body, telEnd) != -1 {
		t.Fatalf("framing byte leaked into the body: % X", body)
	}
	out, err := DecodeTelegram(tele)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Data, mp.Data) {
		t.Errorf("escaped payload decoded to % X", out.Data)
	}
}

func TestTelegramCRCDetectsCorruption(t *testing.T) {
	tele, err := MakeTelegram(MessagePrimitive{Type: "Read", Register: RegMatrix})
	if err != nil {
		t.Fatal(err)
	}
	tele[2] ^= 0xFF
	if _, err := DecodeTelegram(tele); err == nil {
		t.Error("corrupted telegram decoded without error")
	}
}

func TestTelegramInvalidType(t *testing.T) {
	if _, err := MakeTelegram(MessagePrimitive{Type: "Bogus"}); err == nil {
		t.Error("invalid message type accepted")
	}
}

func TestTelegramTruncated(t *testing.T) {
	if _, err := DecodeTelegram([]byte{telStart, 0x01, telEnd}); err == nil {
		t.Error("truncated telegram accepted")
	}
	if _, err := DecodeTelegram([]byte{0x01, 0x02}); err == nil {
		t.Error("unframed bytes accepted")
	}
}
