package parakeet

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPCM16ToFloat32(t *testing.T) {
	pcm := make([]byte, 8)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(0))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(16384))
	negHalf := int16(-16384)
	negFull := int16(-32768)
	binary.LittleEndian.PutUint16(pcm[4:], uint16(negHalf))
	binary.LittleEndian.PutUint16(pcm[6:], uint16(negFull))

	got := pcm16ToFloat32(pcm)
	want := []float32{0, 0.5, -0.5, -1.0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32DropsTrailingByte(t *testing.T) {
	if got := pcm16ToFloat32(make([]byte, 5)); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

// fakeServer accepts one connection, validates the utterance frame, and
// replies with JSON.
func fakeServer(t *testing.T, reply string, check func(rate uint32, samples []float32, marker string)) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var header [8]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		rate := binary.LittleEndian.Uint32(header[0:4])
		payloadLen := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		samples := make([]float32, payloadLen/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
		}

		marker := make([]byte, len(doneMarker))
		if _, err := io.ReadFull(conn, marker); err != nil {
			return
		}
		if check != nil {
			check(rate, samples, string(marker))
		}
		_, _ = conn.Write([]byte(reply + "\n"))
	}()

	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestTranscribeUtterance(t *testing.T) {
	pcm := make([]byte, 3200)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(16384))

	var gotRate uint32
	var gotSamples []float32
	var gotMarker string
	port := fakeServer(t, `{"text":"testing one two"}`, func(rate uint32, samples []float32, marker string) {
		gotRate, gotSamples, gotMarker = rate, samples, marker
	})

	text, err := transcribeUtterance(context.Background(), port, pcm)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "testing one two" {
		t.Errorf("text = %q, want %q", text, "testing one two")
	}
	if gotRate != sampleRate {
		t.Errorf("rate = %d, want %d", gotRate, sampleRate)
	}
	if len(gotSamples) != len(pcm)/2 {
		t.Errorf("samples = %d, want %d", len(gotSamples), len(pcm)/2)
	}
	if gotSamples[0] != 0.5 {
		t.Errorf("first sample = %f, want 0.5", gotSamples[0])
	}
	if gotMarker != doneMarker {
		t.Errorf("marker = %q, want %q", gotMarker, doneMarker)
	}
}

func TestTranscribeUtteranceServerError(t *testing.T) {
	port := fakeServer(t, `{"error":"model not loaded"}`, nil)
	if _, err := transcribeUtterance(context.Background(), port, make([]byte, 320)); err == nil {
		t.Error("expected server error")
	}
}

func TestTranscribeUtteranceResponseWithoutNewline(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64*1024)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte(`{"text":"hi"}`))
	}()
	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)

	text, err := transcribeUtterance(context.Background(), port, make([]byte, 64))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hi" {
		t.Errorf("text = %q, want hi", text)
	}
}

func TestValidateModel(t *testing.T) {
	d := &Dialect{}
	dir := t.TempDir()

	if err := d.ValidateModel(dir); err == nil {
		t.Error("empty model dir accepted")
	}

	for _, name := range []string{"tokens.txt", "encoder.int8.onnx", "decoder.int8.onnx"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.ValidateModel(dir); err == nil {
		t.Error("model dir without joiner accepted")
	}

	if err := os.WriteFile(filepath.Join(dir, "joiner.int8.onnx"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.ValidateModel(dir); err != nil {
		t.Errorf("complete model dir rejected: %v", err)
	}
}
