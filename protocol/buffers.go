package protocol

// InputBuffer is a queue of received bytes consumed from the front
type InputBuffer interface {
	// Data returns the queued bytes as one contiguous slice
	Data() []byte

	// Available returns the number of queued bytes
	Available() int

	// Pop drops n bytes from the front
	Pop(n int)
}

// OutputBuffer accumulates bytes for transmission and allows back-patching
type OutputBuffer interface {
	// Output appends data
	Output(data []byte)

	// CurPosition returns the current write offset
	CurPosition() int

	// Update overwrites the byte at pos
	Update(pos int, val byte)

	// DataSince returns the bytes written since pos
	DataSince(pos int) []byte
}

// SliceInputBuffer serves an InputBuffer from a fixed slice
type SliceInputBuffer struct {
	data []byte
}

// NewSliceInputBuffer wraps data
func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte {
	return s.data
}

func (s *SliceInputBuffer) Available() int {
	return len(s.data)
}

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is an OutputBuffer over a fixed array; writes past the end
// are dropped and flagged
type ScratchOutput struct {
	buf      [MessageMax]byte
	pos      int
	overflow bool
}

// NewScratchOutput returns an empty scratch buffer
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.overflow = true
	}
}

func (s *ScratchOutput) CurPosition() int {
	return s.pos
}

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Overflowed reports whether any write was truncated since the last Reset
func (s *ScratchOutput) Overflowed() bool {
	return s.overflow
}

// Reset empties the buffer
func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflow = false
}

// FifoBuffer is a fixed-capacity byte ring used between the serial driver
// and the frame decoder. Data linearises in place, so it never allocates.
type FifoBuffer struct {
	buf  []byte
	head int
	n    int
}

// NewFifoBuffer allocates a ring of the given capacity
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count written
func (f *FifoBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		if f.n == len(f.buf) {
			break
		}
		f.buf[(f.head+f.n)%len(f.buf)] = b
		f.n++
		written++
	}
	return written
}

// Read moves up to len(data) bytes out of the ring
func (f *FifoBuffer) Read(data []byte) int {
	read := 0
	for read < len(data) && f.n > 0 {
		data[read] = f.buf[f.head]
		f.head = (f.head + 1) % len(f.buf)
		f.n--
		read++
	}
	return read
}

// Available returns the number of queued bytes
func (f *FifoBuffer) Available() int {
	return f.n
}

// Free returns the remaining capacity
func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.n
}

// Data returns the queued bytes contiguously, rotating the ring if wrapped.
// The slice is valid until the next Write.
func (f *FifoBuffer) Data() []byte {
	if f.head+f.n > len(f.buf) {
		rotate(f.buf, f.head)
		f.head = 0
	}
	return f.buf[f.head : f.head+f.n]
}

// Pop drops n bytes from the front
func (f *FifoBuffer) Pop(n int) {
	if n > f.n {
		n = f.n
	}
	f.head = (f.head + n) % len(f.buf)
	f.n -= n
	if f.n == 0 {
		f.head = 0
	}
}

// IsEmpty reports whether nothing is queued
func (f *FifoBuffer) IsEmpty() bool {
	return f.n == 0
}

// Reset drops everything
func (f *FifoBuffer) Reset() {
	f.head = 0
	f.n = 0
}

// rotate moves b[k:] to the front of b in place
func rotate(b []byte, k int) {
	reverse(b[:k])
	reverse(b[k:])
	reverse(b)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
