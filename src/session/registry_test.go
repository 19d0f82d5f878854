package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	reg, err := NewRegistry(RegistryConfig{StateDir: dir, BufferCapacity: 64, SoftSessionCap: 100})
	if err != nil {
		t.Fatalf("NewRegistry() = %v", err)
	}
	return reg
}

func TestRegistryCreateFindDestroy(t *testing.T) {
	reg := newTestRegistry(t)

	rec, err := reg.CreateNew("Build", "/bin/bash", "/tmp")
	if err != nil {
		t.Fatalf("CreateNew() = %v", err)
	}
	if reg.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", reg.Count())
	}

	found, ok := reg.Find(rec.ID())
	if !ok || found != rec {
		t.Fatal("Find() did not return the created record")
	}

	if err := reg.Destroy(rec.ID()); err != nil {
		t.Fatalf("Destroy() = %v", err)
	}
	if _, ok := reg.Find(rec.ID()); ok {
		t.Fatal("record should be gone after Destroy")
	}
	if reg.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", reg.Count())
	}
}

func TestRegistryAttachOrCreateUsesSuppliedID(t *testing.T) {
	reg := newTestRegistry(t)

	rec, created, err := reg.AttachOrCreate("my-custom-id", "/tmp")
	if err != nil {
		t.Fatalf("AttachOrCreate() = %v", err)
	}
	if !created {
		t.Fatal("expected a new record to be created")
	}
	if rec.ID() != "my-custom-id" {
		t.Fatalf("ID() = %q, want %q", rec.ID(), "my-custom-id")
	}

	again, created2, err := reg.AttachOrCreate("my-custom-id", "/tmp")
	if err != nil {
		t.Fatalf("AttachOrCreate() = %v", err)
	}
	if created2 {
		t.Fatal("second call should find the existing record, not create")
	}
	if again != rec {
		t.Fatal("second call should return the same record instance")
	}
}

func TestRegistryAttachOrCreateRejectsInvalidID(t *testing.T) {
	reg := newTestRegistry(t)
	if _, _, err := reg.AttachOrCreate("has a space", "/tmp"); err != ErrInvalidID {
		t.Fatalf("AttachOrCreate(invalid) = %v, want ErrInvalidID", err)
	}
}

func TestRegistryDestroyNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.Destroy("nope"); err != ErrNotFound {
		t.Fatalf("Destroy(missing) = %v, want ErrNotFound", err)
	}
}

func TestRegistrySaveAllAndRestoreFromDisk(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(RegistryConfig{StateDir: dir, BufferCapacity: 64})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := reg.CreateNew("Build", "/bin/bash", "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	rec.Ingest([]byte("hello\n"))

	if err := reg.SaveAll(); err != nil {
		t.Fatal(err)
	}

	reg2, err := NewRegistry(RegistryConfig{StateDir: dir, BufferCapacity: 64})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg2.RestoreFromDisk(); err != nil {
		t.Fatal(err)
	}

	restored, ok := reg2.Find(rec.ID())
	if !ok {
		t.Fatal("restored registry should contain the saved session")
	}
	if string(restored.Buffer().Snapshot()) != "hello\n" {
		t.Fatalf("restored buffer = %q", restored.Buffer().Snapshot())
	}
}

func TestRegistryRestoreSkipsInvalidFilenameStems(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "has a space.state"), []byte("SESSION_VERSION=1\n---BUFFER_DATA---\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reg, err := NewRegistry(RegistryConfig{StateDir: dir, BufferCapacity: 64})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.RestoreFromDisk(); err != nil {
		t.Fatal(err)
	}
	if reg.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 (invalid stem should be skipped)", reg.Count())
	}
}

func TestRegistryRestoreQuarantinesCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abc.state")
	if err := os.WriteFile(path, []byte("SESSION_VERSION=99\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reg, err := NewRegistry(RegistryConfig{StateDir: dir, BufferCapacity: 64})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.RestoreFromDisk(); err != nil {
		t.Fatal(err)
	}

	if reg.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", reg.Count())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupted file should have been moved aside")
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("quarantined file missing: %v", err)
	}
}

func TestRegistryStats(t *testing.T) {
	reg := newTestRegistry(t)
	rec1, _ := reg.CreateNew("a", "", "")
	_, _ = reg.CreateNew("b", "", "")

	if err := rec1.Attach(&fakeConn{}); err != nil {
		t.Fatal(err)
	}

	stats := reg.Stats()
	if stats.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2", stats.TotalCount)
	}
	if stats.ActiveCount != 1 {
		t.Fatalf("ActiveCount = %d, want 1", stats.ActiveCount)
	}
}

func TestRegistryDestroyClosesAttachedConnection(t *testing.T) {
	reg := newTestRegistry(t)
	rec, err := reg.CreateNew("a", "", "")
	if err != nil {
		t.Fatal(err)
	}
	c := &fakeConn{}
	if err := rec.Attach(c); err != nil {
		t.Fatal(err)
	}

	if err := reg.Destroy(rec.ID()); err != nil {
		t.Fatal(err)
	}
	if !c.closed {
		t.Fatal("attached connection should be closed on Destroy")
	}
}

func TestRegistryDestroyRunsCloseHook(t *testing.T) {
	reg := newTestRegistry(t)
	rec, err := reg.CreateNew("a", "", "")
	if err != nil {
		t.Fatal(err)
	}

	var closed []string
	reg.SetCloseHook(func(id string) { closed = append(closed, id) })

	if err := reg.Destroy(rec.ID()); err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 || closed[0] != rec.ID() {
		t.Fatalf("close hook calls = %v, want exactly [%q]", closed, rec.ID())
	}
}

func TestRegistryEvictionRunsCloseHook(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(RegistryConfig{StateDir: dir, BufferCapacity: 64})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := reg.CreateNew("a", "", "")
	if err != nil {
		t.Fatal(err)
	}
	rec.Detach(nil)

	var closed []string
	reg.SetCloseHook(func(id string) { closed = append(closed, id) })

	loop := NewMaintenanceLoop(reg, MaintenanceConfig{
		SaveInterval:    time.Hour,
		CleanupInterval: 0,
		MaxInactiveAge:  1 * time.Nanosecond,
	})
	time.Sleep(time.Millisecond)
	loop.Tick()

	if len(closed) != 1 || closed[0] != rec.ID() {
		t.Fatalf("close hook calls = %v, want exactly [%q]", closed, rec.ID())
	}
}
