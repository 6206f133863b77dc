package whisper

import (
	"encoding/binary"
	"io"
)

const (
	sampleRate     = 16000
	bytesPerSample = 2
)

// writeWAV wraps raw 16kHz 16-bit mono PCM in a minimal 44-byte WAV
// container, which is what the whisper.cpp server expects as an upload.
func writeWAV(w io.Writer, pcm []byte) error {
	if err := writeWAVHeader(w, len(pcm)); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

func writeWAVHeader(w io.Writer, dataSize int) error {
	totalSize := 36 + dataSize

	// RIFF header
	if _, err := w.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(totalSize)); err != nil {
		return err
	}
	if _, err := w.Write([]byte("WAVE")); err != nil {
		return err
	}

	// fmt sub-chunk
	if _, err := w.Write([]byte("fmt ")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil { // sub-chunk size
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(1)); err != nil { // PCM format
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(1)); err != nil { // mono
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate*bytesPerSample)); err != nil { // byte rate
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bytesPerSample)); err != nil { // block align
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(16)); err != nil { // bits per sample
		return err
	}

	// data sub-chunk
	if _, err := w.Write([]byte("data")); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, uint32(dataSize))
}
