package config_test

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dantte-lp/gotgen/internal/config"
	"github.com/dantte-lp/gotgen/internal/engine"
)

func storeProfile(name string) *engine.Profile {
	return &engine.Profile{
		Name:          name,
		SrcPort:       "eth1",
		DstPort:       "eth2",
		DstIP:         netip.MustParseAddr("10.0.0.2"),
		ProtocolName:  "ipv4",
		BandwidthMbps: 100,
		FrameSize:     1500,
		Enabled:       true,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.json")
	store := config.NewStore(path)

	in := []*engine.Profile{storeProfile("alpha"), storeProfile("beta")}
	if err := store.SaveProfiles(in); err != nil {
		t.Fatalf("SaveProfiles: %v", err)
	}

	out, err := store.LoadProfiles()
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("loaded %d profiles, want 2", len(out))
	}
	if out[0].Name != "alpha" || out[1].Name != "beta" {
		t.Errorf("names = %q, %q", out[0].Name, out[1].Name)
	}
	if out[0].DstIP != netip.MustParseAddr("10.0.0.2") {
		t.Errorf("DstIP = %v, want 10.0.0.2", out[0].DstIP)
	}
	if !out[0].Enabled {
		t.Error("Enabled not persisted")
	}
	if out[0].BandwidthMbps != 100 || out[0].FrameSize != 1500 {
		t.Errorf("descriptor mangled: %+v", out[0])
	}
}

func TestStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store := config.NewStore(filepath.Join(t.TempDir(), "absent.json"))

	profiles, err := store.LoadProfiles()
	if err != nil {
		t.Fatalf("LoadProfiles on missing file: %v", err)
	}
	if profiles != nil {
		t.Errorf("profiles = %v, want nil", profiles)
	}
}

func TestStoreCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "deeper", "profiles.json")
	store := config.NewStore(path)

	if err := store.SaveProfiles([]*engine.Profile{storeProfile("p")}); err != nil {
		t.Fatalf("SaveProfiles: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("store file not created: %v", err)
	}
}

func TestStoreReplaceIsAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.json")
	store := config.NewStore(path)

	if err := store.SaveProfiles([]*engine.Profile{storeProfile("first")}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.SaveProfiles([]*engine.Profile{storeProfile("second")}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	// No temp files left behind after the rename.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".profiles-") {
			t.Errorf("stale temp file %q left behind", e.Name())
		}
	}

	out, err := store.LoadProfiles()
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if len(out) != 1 || out[0].Name != "second" {
		t.Errorf("store contents = %+v, want the replacement set", out)
	}
}

func TestStoreRejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte(`{"version": 99, "profiles": []}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := config.NewStore(path).LoadProfiles()
	if err == nil {
		t.Fatal("LoadProfiles accepted an unknown store version")
	}
}

func TestStoreRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := config.NewStore(path).LoadProfiles(); err == nil {
		t.Fatal("LoadProfiles accepted garbage")
	}
}
