package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestCursor_AppendAndBuffered(t *testing.T) {
	var c Cursor

	if c.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", c.Buffered())
	}

	c.Append([]byte{1, 2, 3})
	if c.Buffered() != 3 {
		t.Errorf("Buffered = %d, want 3", c.Buffered())
	}

	c.Append([]byte{4, 5})
	if c.Buffered() != 5 {
		t.Errorf("Buffered = %d, want 5", c.Buffered())
	}
}

func TestCursor_PeekUint32(t *testing.T) {
	var c Cursor
	c.Append([]byte{0, 0, 0, 12, 0xde, 0xad, 0xbe, 0xef})

	v, err := c.PeekUint32(0)
	if err != nil {
		t.Fatalf("PeekUint32 failed: %v", err)
	}
	if v != 12 {
		t.Errorf("PeekUint32(0) = %d, want 12", v)
	}

	v, err = c.PeekUint32(4)
	if err != nil {
		t.Fatalf("PeekUint32(4) failed: %v", err)
	}
	if v != 0xdeadbeef {
		t.Errorf("PeekUint32(4) = %#x, want 0xdeadbeef", v)
	}

	// Peek must not consume
	if c.Buffered() != 8 {
		t.Errorf("Buffered = %d after peek, want 8", c.Buffered())
	}
}

func TestCursor_PeekUint32_Insufficient(t *testing.T) {
	var c Cursor
	c.Append([]byte{0, 0, 0})

	_, err := c.PeekUint32(0)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}

	c.Append([]byte{7})
	_, err = c.PeekUint32(1)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData for offset past end", err)
	}
}

func TestCursor_Take(t *testing.T) {
	var c Cursor
	c.Append([]byte{1, 2, 3, 4, 5})

	got, err := c.Take(3)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Take(3) = %v, want [1 2 3]", got)
	}
	if c.Buffered() != 2 {
		t.Errorf("Buffered = %d after take, want 2", c.Buffered())
	}

	got, err = c.Take(2)
	if err != nil {
		t.Fatalf("second Take failed: %v", err)
	}
	if !bytes.Equal(got, []byte{4, 5}) {
		t.Errorf("Take(2) = %v, want [4 5]", got)
	}
}

func TestCursor_Take_Insufficient(t *testing.T) {
	var c Cursor
	c.Append([]byte{1, 2})

	_, err := c.Take(3)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}

	// A failed take must consume nothing
	got, err := c.Take(2)
	if err != nil {
		t.Fatalf("Take after failed take: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("Take(2) = %v, want [1 2]", got)
	}
}

func TestCursor_TakeIsolatesBuffer(t *testing.T) {
	var c Cursor
	c.Append([]byte{1, 2, 3, 4})

	got, err := c.Take(2)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}

	// Mutating the returned slice must not affect later reads
	got[0] = 99
	rest, err := c.Take(2)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if !bytes.Equal(rest, []byte{3, 4}) {
		t.Errorf("Take(2) = %v, want [3 4]", rest)
	}
}

func TestCursor_CompactionPreservesData(t *testing.T) {
	var c Cursor

	// Interleave appends and takes so the internal compaction path runs
	for i := 0; i < 100; i++ {
		c.Append([]byte{byte(i), byte(i + 1)})
		got, err := c.Take(2)
		if err != nil {
			t.Fatalf("Take failed at %d: %v", i, err)
		}
		if got[0] != byte(i) || got[1] != byte(i+1) {
			t.Fatalf("Take at %d = %v, want [%d %d]", i, got, byte(i), byte(i+1))
		}
	}

	if c.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", c.Buffered())
	}
}
