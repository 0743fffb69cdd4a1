package device

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/venus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/database"
	"github.com/nerrad567/venus-bridge/migrations"
)

func TestStableIndex(t *testing.T) {
	tests := map[string]int{
		"electrical.batteries.main":    658,
		"electrical.batteries.house":   305,
		"electrical.batteries.starter": 326,
		"tanks.freshWater.0":           792,
	}
	for path, want := range tests {
		if got := StableIndex(path); got != want {
			t.Errorf("StableIndex(%q) = %d, want %d", path, got, want)
		}
	}
}

func TestStableIndex_RangeAndDeterminism(t *testing.T) {
	paths := []string{"", "a", "electrical.batteries.0", "environment.inside.mainCabin", "tanks.blackWater.ünïcode"}
	for _, p := range paths {
		a, b := StableIndex(p), StableIndex(p)
		if a != b {
			t.Errorf("StableIndex(%q) not deterministic: %d != %d", p, a, b)
		}
		if a < 0 || a >= IndexSpace {
			t.Errorf("StableIndex(%q) = %d out of range", p, a)
		}
	}
	if StableIndex("electrical.batteries.main") == StableIndex("electrical.batteries.house") {
		t.Error("main and house batteries collide")
	}
}

func openIdentityDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "identity.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestSQLiteIndexProvider(t *testing.T) {
	db := openIdentityDB(t)
	ctx := context.Background()
	p := NewSQLiteIndexProvider(db.DB)

	idx, err := p.Index(ctx, "electrical.batteries.house", "battery")
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if idx != 305 {
		t.Errorf("Index() = %d, want seeded hash 305", idx)
	}

	// A persisted index wins over the hash.
	if _, err := db.ExecContext(ctx,
		`UPDATE device_identities SET local_index = 42 WHERE base_path = ?`, "electrical.batteries.house",
	); err != nil {
		t.Fatal(err)
	}
	idx, err = p.Index(ctx, "electrical.batteries.house", "battery")
	if err != nil || idx != 42 {
		t.Errorf("Index() = %d, %v; want 42", idx, err)
	}

	known, err := p.Known(ctx)
	if err != nil {
		t.Fatalf("Known() error = %v", err)
	}
	if len(known) != 1 || known["electrical.batteries.house"] != 42 {
		t.Errorf("Known() = %v", known)
	}
}
