package storage_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/storyloom/storyloom/pkg/storage"
)

func testStore(t *testing.T, s storage.Store) {
	t.Helper()

	// 1. Missing key reads as not-found, not as an error.
	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Errorf("Get missing: ok=%v err=%v", ok, err)
	}

	// 2. Set then Get round-trips the payload.
	if err := s.Set("k", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	data, ok, err := s.Get("k")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(data, []byte(`{"a":1}`)) {
		t.Errorf("payload mismatch: %s", data)
	}

	// 3. Set overwrites in place.
	if err := s.Set("k", []byte(`{"a":2}`)); err != nil {
		t.Fatal(err)
	}
	data, _, _ = s.Get("k")
	if !bytes.Equal(data, []byte(`{"a":2}`)) {
		t.Errorf("overwrite not applied: %s", data)
	}

	// 4. Delete removes the key; deleting again is not an error.
	if err := s.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("key still present after Delete")
	}
	if err := s.Delete("k"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestMemory(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()
	testStore(t, s)
}

func TestMemory_CopiesPayloads(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	buf := []byte("original")
	if err := s.Set("k", buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 'X'

	data, _, _ := s.Get("k")
	if string(data) != "original" {
		t.Error("store shares the caller's buffer")
	}
	data[0] = 'Y'
	again, _, _ := s.Get("k")
	if string(again) != "original" {
		t.Error("store hands out its internal buffer")
	}
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", []byte("durable")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	data, ok, err := s2.Get("k")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if string(data) != "durable" {
		t.Errorf("payload after reopen: %s", data)
	}
}
