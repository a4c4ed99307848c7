package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"firestige.xyz/bcrelay/internal/core"
)

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.pid")

	if err := WritePIDFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("remove twice: %v", err)
	}

	if _, err := ReadPIDFile(path); !errors.Is(err, core.ErrDaemonNotRunning) {
		t.Errorf("read after remove: %v, want ErrDaemonNotRunning", err)
	}
}

func TestPIDFile_EmptyPathIsNoop(t *testing.T) {
	if err := WritePIDFile(""); err != nil {
		t.Error(err)
	}
	if err := RemovePIDFile(""); err != nil {
		t.Error(err)
	}
}

func TestReadPIDFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.pid")
	for _, content := range []string{"", "abc\n", "-4\n"} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadPIDFile(path); err == nil {
			t.Errorf("ReadPIDFile(%q) succeeded", content)
		}
	}
}

func TestSignalStop_NotRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.pid")
	if err := SignalStop(path, 0); !errors.Is(err, core.ErrDaemonNotRunning) {
		t.Errorf("SignalStop without pid file: %v", err)
	}

	// A pid far above pid_max never exists.
	if err := os.WriteFile(path, []byte(strconv.Itoa(1<<30)+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := SignalStop(path, 0); err == nil {
		t.Error("expected error signalling a missing process")
	}
}
