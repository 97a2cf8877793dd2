package build

import (
	"testing"

	"github.com/cinder-lang/cinder/internal/buildcfg"
)

func out(name string) *Output {
	return &Output{Files: map[string][]byte{"image": []byte(name)}}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	c.Put("k1", out("one"))
	c.Put("k2", out("two"))

	if _, ok := c.Get("k1"); !ok {
		t.Fatal("k1 missing before eviction")
	}

	c.Put("k3", out("three")) // k2 is now the oldest
	if _, ok := c.Get("k2"); ok {
		t.Fatal("k2 survived past capacity")
	}
	if got, ok := c.Get("k1"); !ok || string(got.Files["image"]) != "one" {
		t.Fatalf("k1 = %v,%v after eviction", got, ok)
	}
	if _, ok := c.Get("k3"); !ok {
		t.Fatal("k3 missing")
	}

	st := c.Stats()
	if st.Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", st.Evictions)
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
}

func TestCacheCountsTraffic(t *testing.T) {
	c := NewCache(4)
	c.Put("k", out("v"))

	c.Get("k")
	c.Get("k")
	c.Get("missing")

	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 {
		t.Fatalf("stats = %+v, want 2 hits and 1 miss", st)
	}
}

func TestCacheInvalidateForcesRebuild(t *testing.T) {
	c := NewCache(4)
	c.Put("k", out("v"))
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("invalidated key still cached")
	}
}

func TestFingerprintTracksSourceAndConfig(t *testing.T) {
	full, err := buildcfg.New("1.3.0", buildcfg.OptFull)
	if err != nil {
		t.Fatal(err)
	}
	none, err := buildcfg.New("1.3.0", buildcfg.OptNone)
	if err != nil {
		t.Fatal(err)
	}

	src := []byte("script demo\nfn main() -> u64 {\n}\n")
	k1 := Fingerprint(full, src)
	k2 := Fingerprint(full, src)
	if k1 != k2 {
		t.Fatalf("same inputs produced different keys: %s vs %s", k1, k2)
	}
	if len(k1) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(k1))
	}
	if Fingerprint(full, []byte("changed")) == k1 {
		t.Fatal("source change kept the key")
	}
	if Fingerprint(none, src) == k1 {
		t.Fatal("configuration change kept the key")
	}
}
