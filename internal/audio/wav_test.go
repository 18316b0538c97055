package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms at 16kHz
	out, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(out) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(out), 44+len(pcm))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatalf("bad container magic: %q %q", out[0:4], out[8:12])
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(out[40:44]); size != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", size, len(pcm))
	}
}

func TestPCM16Duration(t *testing.T) {
	if d := PCM16Duration(make([]byte, 3200), 16000); d != 100*time.Millisecond {
		t.Fatalf("PCM16Duration = %s, want 100ms", d)
	}
	if d := PCM16Duration(nil, 16000); d != 0 {
		t.Fatalf("PCM16Duration(nil) = %s, want 0", d)
	}
	if d := PCM16Duration(make([]byte, 3200), 0); d != 0 {
		t.Fatalf("PCM16Duration(rate 0) = %s, want 0", d)
	}
}
