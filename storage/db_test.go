package storage

import (
	"errors"
	"testing"
)

func TestMemDBBasicOperations(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q", got)
	}
	if err := db.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = db.Get([]byte("k"))
	if string(got) != "v2" {
		t.Fatalf("after overwrite got %q", got)
	}
	ok, err := db.Has([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("has = %v (%v), want true", ok, err)
	}
	ok, _ = db.Has([]byte("missing"))
	if ok {
		t.Fatal("has must be false for missing key")
	}
}

func TestMemDBGetReturnsCopy(t *testing.T) {
	db := NewMemDB()
	if err := db.Put([]byte("k"), []byte("abc")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ := db.Get([]byte("k"))
	got[0] = 'x'
	again, _ := db.Get([]byte("k"))
	if string(again) != "abc" {
		t.Fatalf("stored value mutated: %q", again)
	}
}

func TestMemDBIteratePrefix(t *testing.T) {
	db := NewMemDB()
	for _, key := range []string{"poll/a", "poll/b", "account/a"} {
		if err := db.Put([]byte(key), []byte("v")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	seen := map[string]bool{}
	err := db.IteratePrefix([]byte("poll/"), func(key, value []byte) bool {
		seen[string(key)] = true
		return true
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(seen) != 2 || !seen["poll/a"] || !seen["poll/b"] {
		t.Fatalf("seen = %v, want the two poll keys", seen)
	}

	// Returning false stops the walk early.
	count := 0
	if err := db.IteratePrefix([]byte("poll/"), func(key, value []byte) bool {
		count++
		return false
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
