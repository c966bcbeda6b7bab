// Package arena implements the bump-allocated byte arena backing one
// EventGroup's worth of log content.
//
// Every LogEvent that belongs to the same EventGroup shares a single
// SourceBuffer. Fields reference slices of it through View rather than
// independently-allocated strings, so parsing and merging a batch of log
// lines touches one backing array instead of one allocation per field.
package arena

import "unsafe"

// SourceBuffer is a bump allocator over a single growable byte slice.
// It is not safe for concurrent use; one SourceBuffer belongs to exactly
// one EventGroup, which is itself owned by a single pipeline goroutine at
// a time.
type SourceBuffer struct {
	buf []byte
}

// NewSourceBuffer allocates a SourceBuffer with the given initial capacity.
func NewSourceBuffer(capacity int) *SourceBuffer {
	if capacity < 64 {
		capacity = 64
	}
	return &SourceBuffer{buf: make([]byte, 0, capacity)}
}

// View is a zero-copy reference into a SourceBuffer: a pointer-and-length
// pair, mirroring StringView in the original source. A View is only valid
// as long as its buffer's backing array is not replaced; AppendBytes and
// Put never move existing bytes, they only grow the slice, so Views taken
// earlier remain valid after later appends.
type View struct {
	buf        *SourceBuffer
	start, end int
}

// Len reports the view's byte length.
func (v View) Len() int { return v.end - v.start }

// Empty reports whether the view has zero length.
func (v View) Empty() bool { return v.start == v.end }

// Bytes returns the viewed bytes without copying. Callers must not retain
// the slice past the next mutation of the same arena region (Put/Unescape),
// matching the original's in-place-rewrite contract.
func (v View) Bytes() []byte {
	if v.buf == nil {
		return nil
	}
	return v.buf.buf[v.start:v.end]
}

// String returns the viewed bytes as a string without copying, using
// unsafe.String. This is safe here because SourceBuffer never shrinks or
// reallocates the region backing an already-issued View (appends only grow
// the slice header, never move bytes already committed), so the returned
// string's backing memory lives exactly as long as the SourceBuffer does.
func (v View) String() string {
	b := v.Bytes()
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// AppendString copies s into the arena and returns a View over the copy.
func (b *SourceBuffer) AppendString(s string) View {
	return b.AppendBytes([]byte(s))
}

// AppendBytes copies p into the arena and returns a View over the copy.
func (b *SourceBuffer) AppendBytes(p []byte) View {
	start := len(b.buf)
	b.buf = append(b.buf, p...)
	return View{buf: b, start: start, end: len(b.buf)}
}

// Slice returns a sub-view of v spanning [from,to), relative to v's own
// start. It performs no copy.
func (v View) Slice(from, to int) View {
	return View{buf: v.buf, start: v.start + from, end: v.start + to}
}

// Join returns a view spanning from the start of v to the end of other.
// Both views must belong to the same buffer and other must not start
// before v. This models the original's MergeEvents compaction, where
// content from later events is memmove'd into the trailing gap left by
// earlier ones so the merged result stays one contiguous view.
func (v View) Join(other View) View {
	return View{buf: v.buf, start: v.start, end: other.end}
}

// Reslice narrows or widens v to [start,end) absolute offsets within the
// shared buffer. Used after in-place compaction (merge, unescape) to
// repoint a View at the rewritten region.
func (v View) Reslice(start, end int) View {
	return View{buf: v.buf, start: start, end: end}
}

// Start returns v's absolute offset into its buffer.
func (v View) Start() int { return v.start }

// End returns v's absolute end offset into its buffer.
func (v View) End() int { return v.end }

// Buffer returns the View's owning SourceBuffer, or nil for the zero View.
func (v View) Buffer() *SourceBuffer { return v.buf }

// MutableBytes returns the arena bytes backing v as a mutable slice, for
// in-place rewrites (unicode-escape decoding, newline insertion during
// merge). Writing into this slice only ever shortens usable content or
// writes into the current view's own span; it must never write past v.end
// into bytes owned by a different, not-yet-compacted view.
func (v View) MutableBytes() []byte {
	if v.buf == nil {
		return nil
	}
	return v.buf.buf[v.start:v.end]
}

// WriteByteAt writes a single byte at absolute offset off within the
// buffer. Used by the multiline merger to insert '\n' separators into the
// gap left between two originally-adjacent lines.
func (b *SourceBuffer) WriteByteAt(off int, c byte) {
	b.buf[off] = c
}

// CopyWithin moves length bytes from src to dst within the same backing
// array (a bounded memmove), both given as absolute offsets. dst must be
// <= src so the move never reads from memory it has already overwritten.
func (b *SourceBuffer) CopyWithin(dst, src, length int) {
	copy(b.buf[dst:dst+length], b.buf[src:src+length])
}

// Len reports how many bytes have been committed to the arena so far.
func (b *SourceBuffer) Len() int { return len(b.buf) }

// Reset clears the arena for reuse without releasing its backing array,
// so a pooled SourceBuffer can be handed to the next EventGroup.
func (b *SourceBuffer) Reset() {
	b.buf = b.buf[:0]
}
