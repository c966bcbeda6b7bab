package arena

import "testing"

func TestSourceBuffer_AppendAndView(t *testing.T) {
	b := NewSourceBuffer(16)
	v1 := b.AppendString("hello")
	v2 := b.AppendString("world")

	if got := v1.String(); got != "hello" {
		t.Errorf("v1.String() = %q, want %q", got, "hello")
	}
	if got := v2.String(); got != "world" {
		t.Errorf("v2.String() = %q, want %q", got, "world")
	}
	if v1.Len() != 5 || v2.Len() != 5 {
		t.Errorf("unexpected lengths: v1=%d v2=%d", v1.Len(), v2.Len())
	}
}

func TestSourceBuffer_AppendGrowthPreservesEarlierViews(t *testing.T) {
	b := NewSourceBuffer(4)
	v1 := b.AppendString("a")
	for i := 0; i < 100; i++ {
		b.AppendString("x")
	}
	if got := v1.String(); got != "a" {
		t.Errorf("earlier view corrupted after growth: got %q, want %q", got, "a")
	}
}

func TestView_SliceAndJoin(t *testing.T) {
	b := NewSourceBuffer(16)
	v := b.AppendString("abcdef")

	sub := v.Slice(1, 3)
	if got := sub.String(); got != "bc" {
		t.Errorf("Slice = %q, want %q", got, "bc")
	}

	v2 := b.AppendString("ghi")
	joined := v.Join(v2)
	if got := joined.String(); got != "abcdefghi" {
		t.Errorf("Join = %q, want %q", got, "abcdefghi")
	}
}

func TestView_EmptyAndZeroValue(t *testing.T) {
	var v View
	if !v.Empty() {
		t.Error("zero View should be empty")
	}
	if v.Bytes() != nil {
		t.Error("zero View should yield nil bytes")
	}
	if v.String() != "" {
		t.Error("zero View should yield empty string")
	}
}

func TestSourceBuffer_WriteByteAtAndCopyWithin(t *testing.T) {
	b := NewSourceBuffer(16)
	v1 := b.AppendString("foo")
	v2 := b.AppendString("bar")

	b.WriteByteAt(v1.End(), '\n')
	merged := v1.Reslice(v1.Start(), v2.End())
	if got := merged.String(); got != "foo\nbar" {
		t.Errorf("merged = %q, want %q", got, "foo\nbar")
	}

	// Shift "bar" two bytes left, overwriting the inserted newline.
	b.CopyWithin(v1.End(), v2.Start(), v2.Len())
	shifted := v1.Reslice(v1.Start(), v1.End()+v2.Len())
	if got := shifted.String(); got != "foobar" {
		t.Errorf("after CopyWithin = %q, want %q", got, "foobar")
	}
}

func TestSourceBuffer_Reset(t *testing.T) {
	b := NewSourceBuffer(16)
	b.AppendString("data")
	if b.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", b.Len())
	}
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", b.Len())
	}
	v := b.AppendString("new")
	if got := v.String(); got != "new" {
		t.Errorf("after reset append = %q, want %q", got, "new")
	}
}
