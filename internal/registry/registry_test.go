package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir)
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("jq", []byte(`{"name":"jq"}`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := s.Get("jq")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"name":"jq"}` {
		t.Errorf("Get = %q, want formula JSON", data)
	}
}

func TestStore_GetMiss(t *testing.T) {
	s := newTestStore(t)

	data, err := s.Get("nonexistent")
	if err != nil {
		t.Fatalf("Get on miss should not error: %v", err)
	}
	if data != nil {
		t.Errorf("Get on miss = %v, want nil", data)
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	_ = s.Put("jq", []byte("x"), time.Hour)

	if err := s.Delete("jq"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.IsCached("jq") {
		t.Error("expected jq to be uncached after Delete")
	}
}

func TestStore_IsCached(t *testing.T) {
	s := newTestStore(t)

	if s.IsCached("jq") {
		t.Error("expected jq not cached before Put")
	}
	_ = s.Put("jq", []byte("x"), time.Hour)
	if !s.IsCached("jq") {
		t.Error("expected jq cached after Put")
	}
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	_ = s.Put("jq", []byte("x"), time.Hour)
	_ = s.Put("openssl", []byte("y"), time.Hour)

	keys, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("List() = %v, want 2 entries", keys)
	}
}

func TestStore_List_EmptyCacheDir(t *testing.T) {
	s := &Store{CacheDir: filepath.Join(t.TempDir(), "does-not-exist")}

	keys, err := s.List()
	if err != nil {
		t.Fatalf("List on missing dir should not error: %v", err)
	}
	if keys != nil {
		t.Errorf("List() = %v, want nil", keys)
	}
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)
	_ = s.Put("jq", []byte("x"), time.Hour)

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.IsCached("jq") {
		t.Error("expected cache empty after Clear")
	}
	if _, err := os.Stat(s.CacheDir); err != nil {
		t.Errorf("expected cache dir to be recreated: %v", err)
	}
}

func TestStore_AtomicWrite_NoPartialFile(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("jq", []byte("content"), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	shardDir := filepath.Join(s.CacheDir, shard("jq"))
	entries, err := os.ReadDir(shardDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == "" || e.Name()[0] == '.' {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestShard(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"jq", "j"},
		{"OpenSSL", "o"},
		{"", "_"},
	}

	for _, tt := range tests {
		if got := shard(tt.key); got != tt.want {
			t.Errorf("shard(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
