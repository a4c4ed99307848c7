package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state", "selections.yaml"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)

	adapters, err := s.LoadAdapterSelections()
	if err != nil {
		t.Fatalf("LoadAdapterSelections: %v", err)
	}
	if len(adapters) != 0 {
		t.Errorf("adapters: got %v, want empty", adapters)
	}
	dsts, err := s.LoadDestinations()
	if err != nil {
		t.Fatalf("LoadDestinations: %v", err)
	}
	if len(dsts) != 0 {
		t.Errorf("destinations: got %v, want empty", dsts)
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveAdapterSelections([]string{"eth0", "wg0"}); err != nil {
		t.Fatalf("SaveAdapterSelections: %v", err)
	}
	if err := s.SaveDestinations([]string{"192.168.3.5"}); err != nil {
		t.Fatalf("SaveDestinations: %v", err)
	}

	adapters, _ := s.LoadAdapterSelections()
	if strings.Join(adapters, ",") != "eth0,wg0" {
		t.Errorf("adapters: got %v", adapters)
	}
	dsts, _ := s.LoadDestinations()
	if strings.Join(dsts, ",") != "192.168.3.5" {
		t.Errorf("destinations: got %v", dsts)
	}
}

func TestFileStore_SaveReplaces(t *testing.T) {
	s := newTestStore(t)

	_ = s.SaveDestinations([]string{"10.0.0.1", "10.0.0.2"})
	_ = s.SaveDestinations(nil)

	dsts, err := s.LoadDestinations()
	if err != nil {
		t.Fatalf("LoadDestinations: %v", err)
	}
	if len(dsts) != 0 {
		t.Errorf("destinations: got %v, want empty", dsts)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveAdapterSelections([]string{"eth1"})

	reopened, err := NewFileStore(s.Path())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	adapters, _ := reopened.LoadAdapterSelections()
	if len(adapters) != 1 || adapters[0] != "eth1" {
		t.Errorf("adapters after reopen: got %v", adapters)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("adapters: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := s.LoadAdapterSelections(); err == nil {
		t.Error("expected decode error")
	}
	if err := s.SaveDestinations([]string{"10.0.0.1"}); err == nil {
		t.Error("save over a corrupt file should fail rather than drop adapters")
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveAdapterSelections([]string{"eth0"})
	_ = s.SaveDestinations([]string{"10.0.0.1"})

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory entries: got %v, want only selections.yaml", names)
	}
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.SaveAdapterSelections([]string{"eth0"})
		}()
		go func() {
			defer wg.Done()
			_ = s.SaveDestinations([]string{"10.0.0.1", "10.0.0.2"})
		}()
	}
	wg.Wait()

	adapters, _ := s.LoadAdapterSelections()
	dsts, _ := s.LoadDestinations()
	sort.Strings(dsts)
	if strings.Join(adapters, ",") != "eth0" || strings.Join(dsts, ",") != "10.0.0.1,10.0.0.2" {
		t.Errorf("got adapters=%v destinations=%v", adapters, dsts)
	}
}

func TestNopStore(t *testing.T) {
	var p Persistence = NopStore{}
	if err := p.SaveAdapterSelections([]string{"eth0"}); err != nil {
		t.Error(err)
	}
	adapters, err := p.LoadAdapterSelections()
	if err != nil || adapters != nil {
		t.Errorf("got %v, %v", adapters, err)
	}
}

func TestNewFileStore_EmptyPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}
