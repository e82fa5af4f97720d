package aperture_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"aperture/internal/aperture"
	"aperture/internal/testutil"
)

func push(t *testing.T, env *testutil.Env, deviceID, rel, name, body string) (string, bool) {
	t.Helper()
	entry, created, err := env.Gateway.Push(context.Background(), aperture.PushRequest{
		DeviceID:     deviceID,
		RelativePath: rel,
		FileName:     name,
	}, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Push(%s/%s) error = %v", rel, name, err)
	}
	return entry.ID, created
}

func pullString(t *testing.T, env *testutil.Env, deviceID, rel, name string) string {
	t.Helper()
	f, err := env.Gateway.Pull(context.Background(), deviceID, rel, name)
	if err != nil {
		t.Fatalf("Pull(%s/%s) error = %v", rel, name, err)
	}
	defer f.Body.Close()
	data, err := io.ReadAll(f.Body)
	if err != nil {
		t.Fatalf("reading pulled file: %v", err)
	}
	if f.Size != int64(len(data)) {
		t.Errorf("Size = %d, read %d bytes", f.Size, len(data))
	}
	return string(data)
}

func TestTransferGateway_PushPull(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")

	entry, created, err := env.Gateway.Push(ctx, aperture.PushRequest{
		DeviceID:     "dev1",
		RelativePath: "DCIM/Camera",
		FileName:     "notes.txt",
		DirPath:      "/storage/emulated/0/DCIM/Camera",
		ClientPath:   "/storage/emulated/0/DCIM/Camera/notes.txt",
	}, strings.NewReader("hello, aperture"))
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !created {
		t.Error("Push() created = false for a new path")
	}
	if entry.ByteSize != 15 || entry.Metadata.Size != 15 {
		t.Errorf("sizes = %d / %d, want 15", entry.ByteSize, entry.Metadata.Size)
	}
	if entry.MimeType == nil || !strings.HasPrefix(*entry.MimeType, "text/plain") {
		t.Errorf("MimeType = %v, want text/plain", entry.MimeType)
	}
	if entry.PerceptualHash != nil {
		t.Errorf("PerceptualHash = %q, want nil for text", *entry.PerceptualHash)
	}
	if entry.DirPath != "/storage/emulated/0/DCIM/Camera" {
		t.Errorf("DirPath = %q", entry.DirPath)
	}
	if entry.StorageLocation != "dev1/DCIM/Camera/notes.txt" {
		t.Errorf("StorageLocation = %q", entry.StorageLocation)
	}

	if got := pullString(t, env, "dev1", "DCIM/Camera", "notes.txt"); got != "hello, aperture" {
		t.Errorf("Pull() = %q, want %q", got, "hello, aperture")
	}
}

func TestTransferGateway_Overwrite(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")

	firstID, created := push(t, env, "dev1", "", "notes.txt", "hi")
	if !created {
		t.Fatal("first push created = false")
	}
	secondID, created := push(t, env, "dev1", "", "notes.txt", "bye")
	if created {
		t.Error("second push created = true")
	}
	if firstID != secondID {
		t.Errorf("entry ID changed: %q -> %q", firstID, secondID)
	}

	if got := pullString(t, env, "dev1", "", "notes.txt"); got != "bye" {
		t.Errorf("Pull() = %q, want %q", got, "bye")
	}
	entries, err := env.Ledger.List(ctx, "dev1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestTransferGateway_PathSpellingsShareAnEntry(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")

	push(t, env, "dev1", "docs/", "a.txt", "one")
	push(t, env, "dev1", `/docs\.`, "a.txt", "two")

	entries, err := env.Ledger.List(ctx, "dev1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	if entries[0].RelativePath != "docs" {
		t.Errorf("RelativePath = %q, want docs", entries[0].RelativePath)
	}
	if got := pullString(t, env, "dev1", "docs", "a.txt"); got != "two" {
		t.Errorf("Pull() = %q, want two", got)
	}
}

func TestTransferGateway_DevicesAreIsolated(t *testing.T) {
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")
	registerDevice(t, env, "dev2")

	push(t, env, "dev1", "", "a.txt", "from dev1")
	push(t, env, "dev2", "", "a.txt", "from dev2")

	if got := pullString(t, env, "dev1", "", "a.txt"); got != "from dev1" {
		t.Errorf("dev1 Pull() = %q", got)
	}
	if got := pullString(t, env, "dev2", "", "a.txt"); got != "from dev2" {
		t.Errorf("dev2 Pull() = %q", got)
	}
}

func TestTransferGateway_DistinctPathsKeepSeparateEntries(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")

	inDirID, _ := push(t, env, "dev1", "photos", "1.jpg", "in-dir")
	atRootID, created := push(t, env, "dev1", "", "photos1.jpg", "at-root")
	if !created {
		t.Error("second path updated an existing entry, want a new one")
	}
	if inDirID == atRootID {
		t.Errorf("both paths share entry %q", inDirID)
	}

	entries, err := env.Ledger.List(ctx, "dev1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger has %d entries, want 2", len(entries))
	}
	if got := pullString(t, env, "dev1", "photos", "1.jpg"); got != "in-dir" {
		t.Errorf("Pull(photos/1.jpg) = %q, want in-dir", got)
	}
	if got := pullString(t, env, "dev1", "", "photos1.jpg"); got != "at-root" {
		t.Errorf("Pull(photos1.jpg) = %q, want at-root", got)
	}
}

func TestTransferGateway_PullErrors(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")

	t.Run("never pushed", func(t *testing.T) {
		_, err := env.Gateway.Pull(ctx, "dev1", "", "missing.txt")
		if !errors.Is(err, aperture.ErrNotFound) {
			t.Errorf("Pull() error = %v, want not found", err)
		}
	})

	t.Run("invalid path", func(t *testing.T) {
		_, err := env.Gateway.Pull(ctx, "dev1", "../x", "a.txt")
		if !errors.Is(err, aperture.ErrValidation) {
			t.Errorf("Pull() error = %v, want validation error", err)
		}
	})

	t.Run("stored file removed", func(t *testing.T) {
		entryID, _ := push(t, env, "dev1", "", "gone.txt", "data")
		entry, err := env.Ledger.Find(ctx, "dev1", "", "gone.txt")
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if entry.ID != entryID {
			t.Fatalf("Find() ID = %q, want %q", entry.ID, entryID)
		}
		path, err := env.Store.Path(entry.StorageLocation)
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		if err := env.Store.Fs().Remove(path); err != nil {
			t.Fatalf("removing stored file: %v", err)
		}

		_, err = env.Gateway.Pull(ctx, "dev1", "", "gone.txt")
		if !errors.Is(err, aperture.ErrIntegrity) {
			t.Errorf("Pull() error = %v, want integrity error", err)
		}
	})
}

func TestTransferGateway_PushValidation(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t, testutil.WithIgnore("*.part"))
	registerDevice(t, env, "dev1")

	tests := []struct {
		name string
		req  aperture.PushRequest
	}{
		{name: "escaping path", req: aperture.PushRequest{DeviceID: "dev1", RelativePath: "../../etc", FileName: "passwd"}},
		{name: "drive path", req: aperture.PushRequest{DeviceID: "dev1", RelativePath: `C:\Users`, FileName: "a.txt"}},
		{name: "missing name", req: aperture.PushRequest{DeviceID: "dev1"}},
		{name: "name with separator", req: aperture.PushRequest{DeviceID: "dev1", FileName: "a/b.txt"}},
		{name: "ignored pattern", req: aperture.PushRequest{DeviceID: "dev1", RelativePath: "dl", FileName: "movie.part"}},
		{name: "store temp name", req: aperture.PushRequest{DeviceID: "dev1", FileName: ".tmp-123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.Gateway.Push(ctx, tt.req, strings.NewReader("x"))
			if !errors.Is(err, aperture.ErrValidation) {
				t.Errorf("Push() error = %v, want validation error", err)
			}
		})
	}

	entries, err := env.Ledger.List(ctx, "dev1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected pushes left %d entries", len(entries))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestTransferGateway_FailedUploadKeepsPreviousFile(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")
	push(t, env, "dev1", "", "notes.txt", "committed")

	body := io.MultiReader(strings.NewReader("partial"), failingReader{})
	_, _, err := env.Gateway.Push(ctx, aperture.PushRequest{DeviceID: "dev1", FileName: "notes.txt"}, body)
	if !errors.Is(err, aperture.ErrStorage) {
		t.Fatalf("Push() error = %v, want storage error", err)
	}

	if got := pullString(t, env, "dev1", "", "notes.txt"); got != "committed" {
		t.Errorf("Pull() = %q, want committed bytes", got)
	}
}

func TestTransferGateway_ImageHash(t *testing.T) {
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}

	entry, _, err := env.Gateway.Push(context.Background(), aperture.PushRequest{
		DeviceID: "dev1", RelativePath: "DCIM", FileName: "shot.png",
	}, &buf)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if entry.MimeType == nil || *entry.MimeType != "image/png" {
		t.Errorf("MimeType = %v, want image/png", entry.MimeType)
	}
	if entry.PerceptualHash == nil || *entry.PerceptualHash == "" {
		t.Error("PerceptualHash is empty for an image")
	}
}

func TestTransferGateway_ConcurrentPushesToOnePath(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	registerDevice(t, env, "dev1")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, c, err := env.Gateway.Push(ctx, aperture.PushRequest{DeviceID: "dev1", FileName: "same.txt"}, strings.NewReader("payload"))
			if err != nil {
				t.Errorf("Push() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if c {
				created++
			}
			ids[entry.ID] = struct{}{}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("%d pushes reported created, want 1", created)
	}
	if len(ids) != 1 {
		t.Errorf("pushes returned %d distinct entry IDs, want 1", len(ids))
	}
}
