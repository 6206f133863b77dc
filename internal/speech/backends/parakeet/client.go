package parakeet

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"time"
)

const sampleRate = 16000

// doneMarker terminates one utterance; the server replies with JSON after
// seeing it.
const doneMarker = "Done"

type utteranceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// transcribeUtterance sends one utterance over a fresh connection:
// a binary header (sample rate, payload length), the float32 samples, and
// the literal Done marker, then reads the JSON reply.
func transcribeUtterance(ctx context.Context, port int, pcm []byte) (string, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr(port))
	if err != nil {
		return "", fmt.Errorf("dial inference socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(utteranceTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	samples := pcm16ToFloat32(pcm)
	payload := make([]byte, 8+4*len(samples))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(sampleRate))
	binary.LittleEndian.PutUint32(payload[4:8], uint32(4*len(samples)))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(payload[8+4*i:], math.Float32bits(s))
	}

	if _, err := conn.Write(payload); err != nil {
		return "", fmt.Errorf("write utterance: %w", err)
	}
	if _, err := conn.Write([]byte(doneMarker)); err != nil {
		return "", fmt.Errorf("write done marker: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(bytes.TrimSpace(line)) == 0 {
		return "", fmt.Errorf("read response: %w", err)
	}

	var resp utteranceResponse
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("server error: %s", resp.Error)
	}
	return resp.Text, nil
}

// pcm16ToFloat32 converts raw little-endian PCM16 to normalized float32
// samples. A trailing odd byte is dropped.
func pcm16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}
