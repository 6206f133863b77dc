package deepgram

import "sync"

// frameBuffer is a bounded FIFO of audio frames. When full, the oldest
// frames are evicted so recent audio survives; dictations recover better
// from a clipped lead-in than from a truncated tail.
type frameBuffer struct {
	mu       sync.Mutex
	frames   [][]byte
	size     int
	maxBytes int
}

func newFrameBuffer(maxBytes int) *frameBuffer {
	return &frameBuffer{maxBytes: maxBytes}
}

// Append copies and stores one frame, evicting from the front when the
// byte budget would be exceeded.
func (b *frameBuffer) Append(frame []byte) {
	if len(frame) == 0 || len(frame) > b.maxBytes {
		return
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.size+len(cp) > b.maxBytes && len(b.frames) > 0 {
		b.size -= len(b.frames[0])
		b.frames = b.frames[1:]
	}
	b.frames = append(b.frames, cp)
	b.size += len(cp)
}

// Drain returns all buffered frames in order and empties the buffer.
func (b *frameBuffer) Drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.frames
	b.frames = nil
	b.size = 0
	return out
}

// Snapshot returns the buffered frames in order without clearing them.
func (b *frameBuffer) Snapshot() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.frames))
	copy(out, b.frames)
	return out
}

func (b *frameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.size = 0
}

func (b *frameBuffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *frameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}
