package aperture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"aperture/internal/aperture"
	"aperture/internal/model"
	"aperture/internal/testutil"
)

func registerDevice(t *testing.T, env *testutil.Env, id string) {
	t.Helper()
	if _, err := env.Registry.Register(context.Background(), aperture.RegisterParams{
		DeviceID: id, DisplayName: id, Platform: android14,
	}); err != nil {
		t.Fatalf("Register(%s) error = %v", id, err)
	}
}

func TestContentLedger_Record(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")

	first, created, err := env.Ledger.Record(ctx, &model.LocalEntry{
		DeviceID:        "dev1",
		RelativePath:    "docs",
		FileName:        "notes.txt",
		ByteSize:        2,
		StorageLocation: "dev1/docs/notes.txt",
		ContentKey:      "ignored",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !created {
		t.Error("first Record() created = false")
	}
	if want := aperture.ComputeContentKey("docs", "notes.txt"); first.ContentKey != want {
		t.Errorf("ContentKey = %q, want %q", first.ContentKey, want)
	}
	if first.ID != "id-1" {
		t.Errorf("ID = %q, want id-1", first.ID)
	}

	env.Clock.Advance(time.Minute)
	second, created, err := env.Ledger.Record(ctx, &model.LocalEntry{
		DeviceID:        "dev1",
		RelativePath:    "docs",
		FileName:        "notes.txt",
		ByteSize:        3,
		StorageLocation: "dev1/docs/notes.txt",
	})
	if err != nil {
		t.Fatalf("second Record() error = %v", err)
	}
	if created {
		t.Error("second Record() created = true")
	}
	if second.ID != first.ID {
		t.Errorf("ID changed on overwrite: %q -> %q", first.ID, second.ID)
	}
	if !second.RecordedAt.Equal(testutil.FixedTime) {
		t.Errorf("RecordedAt = %v, want first record time", second.RecordedAt)
	}
	if !second.UpdatedAt.Equal(testutil.FixedTime.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want advanced time", second.UpdatedAt)
	}

	entries, err := env.Ledger.List(ctx, "dev1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].ByteSize != 3 {
		t.Errorf("List() = %+v, want one entry of size 3", entries)
	}
}

func TestContentLedger_Find(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")
	registerDevice(t, env, "dev2")

	if _, _, err := env.Ledger.Record(ctx, &model.LocalEntry{
		DeviceID: "dev1", FileName: "a.txt", StorageLocation: "dev1/a.txt",
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if _, err := env.Ledger.Find(ctx, "dev1", "", "a.txt"); err != nil {
		t.Errorf("Find() error = %v", err)
	}
	if _, err := env.Ledger.Find(ctx, "dev2", "", "a.txt"); !errors.Is(err, aperture.ErrNotFound) {
		t.Errorf("Find(other device) error = %v, want not found", err)
	}
	if _, err := env.Ledger.Find(ctx, "dev1", "", "b.txt"); !errors.Is(err, aperture.ErrNotFound) {
		t.Errorf("Find(missing) error = %v, want not found", err)
	}
}
