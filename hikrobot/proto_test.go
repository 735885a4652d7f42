package hikrobot

import "testing"

func TestCommandHeaderLayout(t *testing.T) {
	var tags tagGen
	hdr := encCommand(&tags, msgWriteReg, RegExposure, 5000)
	if hdr[0] != msgWriteReg {
		t.Errorf("header message ID %#x, want %#x", hdr[0], msgWriteReg)
	}
	if invTag(hdr[1]) != hdr[2] {
		t.Errorf("tag %#x and inverse %#x fail the inversion check", hdr[1], hdr[2])
	}
	if got := dataOrder.Uint32(hdr[4:8]); got != RegExposure {
		t.Errorf("register field %#x, want %#x", got, RegExposure)
	}
	if got := dataOrder.Uint32(hdr[8:12]); got != 5000 {
		t.Errorf("value field %d, want 5000", got)
	}
}

func TestTagGenNeverZero(t *testing.T) {
	var tags tagGen
	for i := 0; i < 300; i++ {
		if tags.next() == 0 {
			t.Fatal("tag generator emitted zero")
		}
	}
}

func TestDecReply(t *testing.T) {
	var tags tagGen
	hdr := encCommand(&tags, msgAck, RegGain, 7000)
	v, err := decReply(hdr[:])
	if err != nil {
		t.Fatalf("decReply returned %v", err)
	}
	if v != 7000 {
		t.Errorf("decReply value %d, want 7000", v)
	}
	// a non-ack message is not a reply
	hdr[0] = msgWriteReg
	if _, err := decReply(hdr[:]); err == nil {
		t.Error("decReply accepted a non-ack message")
	}
	// a mangled tag must be caught
	hdr[0] = msgAck
	hdr[2] ^= 0x01
	if _, err := decReply(hdr[:]); err == nil {
		t.Error("decReply accepted a corrupted tag")
	}
	if _, err := decReply(hdr[:6]); err == nil {
		t.Error("decReply accepted a short buffer")
	}
}

func TestDecLeader(t *testing.T) {
	buf := make([]byte, leaderSize)
	dataOrder.PutUint32(buf[0:4], frameMagic)
	dataOrder.PutUint16(buf[4:6], 1440)
	dataOrder.PutUint16(buf[6:8], 1080)
	dataOrder.PutUint32(buf[8:12], 1440*1080)
	w, h, n, err := decLeader(buf)
	if err != nil {
		t.Fatalf("decLeader returned %v", err)
	}
	if w != 1440 || h != 1080 || n != 1440*1080 {
		t.Errorf("decLeader = %d, %d, %d", w, h, n)
	}
	dataOrder.PutUint32(buf[0:4], 0xDEADBEEF)
	if _, _, _, err := decLeader(buf); err == nil {
		t.Error("decLeader accepted a bad magic")
	}
	dataOrder.PutUint32(buf[0:4], frameMagic)
	dataOrder.PutUint16(buf[4:6], 0)
	if _, _, _, err := decLeader(buf); err == nil {
		t.Error("decLeader accepted zero width")
	}
}
