package session

import (
	"errors"
	"testing"
	"time"
)

type fakeConn struct {
	written [][]byte
	closed  bool
	reason  string
}

func (f *fakeConn) Write(p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConn) Close(reason string) {
	f.closed = true
	f.reason = reason
}

func TestNewRecordDefaults(t *testing.T) {
	r := NewRecord(NewOptions{})
	meta := r.Describe()
	if meta.Name != defaultName {
		t.Errorf("Name = %q, want %q", meta.Name, defaultName)
	}
	if meta.TerminalCols != defaultTerminalCols || meta.TerminalRows != defaultTerminalRows {
		t.Errorf("dimensions = %dx%d, want %dx%d", meta.TerminalCols, meta.TerminalRows, defaultTerminalCols, defaultTerminalRows)
	}
	if !ValidateID(meta.ID) {
		t.Errorf("generated id %q is not valid", meta.ID)
	}
	if !meta.NeedsSave {
		t.Error("a freshly created record should be dirty")
	}
}

func TestRecordRenameRejectsEmpty(t *testing.T) {
	r := NewRecord(NewOptions{})
	if err := r.Rename(""); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("Rename(\"\") = %v, want ErrEmptyName", err)
	}
	if err := r.Rename("   "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("Rename(whitespace) = %v, want ErrEmptyName", err)
	}
	if err := r.Rename("build"); err != nil {
		t.Fatalf("Rename(\"build\") = %v, want nil", err)
	}
	if got := r.Describe().Name; got != "build" {
		t.Fatalf("Name = %q, want %q", got, "build")
	}
}

func TestRecordAttachExclusivity(t *testing.T) {
	r := NewRecord(NewOptions{})
	c1 := &fakeConn{}
	c2 := &fakeConn{}

	if err := r.Attach(c1); err != nil {
		t.Fatalf("first Attach = %v, want nil", err)
	}
	if err := r.Attach(c2); !errors.Is(err, ErrAttachConflict) {
		t.Fatalf("second Attach = %v, want ErrAttachConflict", err)
	}

	r.Detach(c1)
	if err := r.Attach(c2); err != nil {
		t.Fatalf("Attach after Detach = %v, want nil", err)
	}
}

func TestRecordDetachIdempotent(t *testing.T) {
	r := NewRecord(NewOptions{})
	r.Detach(nil)
	r.Detach(nil)
	if r.IsActive() {
		t.Fatal("record should not be active")
	}
}

func TestRecordDetachIgnoresStaleConnection(t *testing.T) {
	r := NewRecord(NewOptions{})
	c1 := &fakeConn{}
	c2 := &fakeConn{}

	if _, evicted := r.AttachForReplay(c1); evicted != nil {
		t.Fatal("unexpected eviction on first attach")
	}
	if _, evicted := r.AttachForReplay(c2); evicted != c1 {
		t.Fatal("second attach should evict the first connection")
	}

	// c1's own goroutine reaches its Detach call after it has already been
	// displaced by c2. It must not clear c2's attachment.
	r.Detach(c1)
	if !r.IsActive() {
		t.Fatal("a stale Detach from the displaced connection must not deactivate the record")
	}

	r.Ingest([]byte("still live"))
	if len(c2.written) != 1 || string(c2.written[0]) != "still live" {
		t.Fatalf("c2 written = %v, want one frame %q", c2.written, "still live")
	}

	r.Detach(c2)
	if r.IsActive() {
		t.Fatal("Detach from the currently attached connection should deactivate the record")
	}
}

func TestRecordAttachForReplayEvicts(t *testing.T) {
	r := NewRecord(NewOptions{})
	r.Buffer().Append([]byte("prompt$ "))

	c1 := &fakeConn{}
	snap1, evicted1 := r.AttachForReplay(c1)
	if evicted1 != nil {
		t.Fatal("first attach should not evict anything")
	}
	if string(snap1) != "prompt$ " {
		t.Fatalf("snapshot = %q, want %q", snap1, "prompt$ ")
	}

	c2 := &fakeConn{}
	snap2, evicted2 := r.AttachForReplay(c2)
	if evicted2 != c1 {
		t.Fatal("second attach should evict the first connection")
	}
	if string(snap2) != "prompt$ " {
		t.Fatalf("replay snapshot for c2 = %q, want %q", snap2, "prompt$ ")
	}
}

func TestRecordIngestForwardsToAttachedConnection(t *testing.T) {
	r := NewRecord(NewOptions{})
	c := &fakeConn{}
	if _, evicted := r.AttachForReplay(c); evicted != nil {
		t.Fatal("unexpected eviction on first attach")
	}

	r.Ingest([]byte("hello\n"))
	if len(c.written) != 1 || string(c.written[0]) != "hello\n" {
		t.Fatalf("written = %v, want one frame %q", c.written, "hello\n")
	}
	if got := r.Buffer().Snapshot(); string(got) != "hello\n" {
		t.Fatalf("buffer snapshot = %q, want %q", got, "hello\n")
	}

	meta := r.Describe()
	if meta.TotalBytesWritten != 6 {
		t.Fatalf("TotalBytesWritten = %d, want 6", meta.TotalBytesWritten)
	}
}

func TestRecordIngestWithoutAttachmentOnlyBuffers(t *testing.T) {
	r := NewRecord(NewOptions{})
	r.Ingest([]byte("background output"))
	if got := r.Buffer().Snapshot(); string(got) != "background output" {
		t.Fatalf("buffer snapshot = %q", got)
	}
}

func TestRecordResizeValidation(t *testing.T) {
	r := NewRecord(NewOptions{})
	if err := r.Resize(0, 24); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("Resize(0, 24) = %v, want ErrInvalidDimensions", err)
	}
	if err := r.Resize(80, 0); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("Resize(80, 0) = %v, want ErrInvalidDimensions", err)
	}
	if err := r.Resize(120, 40); err != nil {
		t.Fatalf("Resize(120, 40) = %v, want nil", err)
	}
	meta := r.Describe()
	if meta.TerminalCols != 120 || meta.TerminalRows != 40 {
		t.Fatalf("dimensions = %dx%d, want 120x40", meta.TerminalCols, meta.TerminalRows)
	}
}

func TestRecordNeedsSaving(t *testing.T) {
	r := NewRecord(NewOptions{})
	if !r.NeedsSaving(30 * time.Second) {
		t.Fatal("freshly created record should need saving")
	}
	r.markSaved(time.Now())
	if r.NeedsSaving(30 * time.Second) {
		t.Fatal("just-saved record should not need saving within the interval")
	}
	if !r.NeedsSaving(0) {
		t.Fatal("with a zero save interval every record always needs saving")
	}
}
