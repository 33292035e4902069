package shmutil

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestCreateWriteRead(t *testing.T) {
	r, err := Create("test-region", 4096)
	if err != nil {
		t.Skipf("memfd_create unavailable in this sandbox: %v", err)
	}
	defer r.Close()

	if got := r.Size(); got != 4096 {
		t.Fatalf("Size() = %d, want 4096", got)
	}
	copy(r.Data, []byte("hello"))
	if string(r.Data[:5]) != "hello" {
		t.Fatalf("read back %q, want %q", r.Data[:5], "hello")
	}
}

func TestAttach(t *testing.T) {
	r, err := Create("test-region", 4096)
	if err != nil {
		t.Skipf("memfd_create unavailable in this sandbox: %v", err)
	}
	defer r.Close()
	copy(r.Data, []byte("shared"))

	attached, err := Attach(r.Fd, 4096)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if string(attached.Data[:6]) != "shared" {
		t.Fatalf("attached view = %q, want %q", attached.Data[:6], "shared")
	}
	// Only unmap the second view here; r.Close (deferred above) owns the fd.
	if err := unix.Munmap(attached.Data); err != nil {
		t.Fatalf("munmap attached view: %v", err)
	}
	attached.Data = nil
}
