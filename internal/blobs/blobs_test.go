package blobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		location string
		bucket   string
		prefix   string
		dir      string
		wantErr  bool
	}{
		{location: "gs://calib", bucket: "calib"},
		{location: "gs://calib/runs/2026/", bucket: "calib", prefix: "runs/2026"},
		{location: "gs://", wantErr: true},
		{location: "/tmp/blobs", dir: "/tmp/blobs"},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			store, err := Open(tt.location)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			switch s := store.(type) {
			case *GCSBlobstore:
				if s.Bucket != tt.bucket || s.Prefix != tt.prefix {
					t.Errorf("expected %s/%s, got %s/%s", tt.bucket, tt.prefix, s.Bucket, s.Prefix)
				}
			case *DirBlobstore:
				if s.Dir != tt.dir {
					t.Errorf("expected dir %s, got %s", tt.dir, s.Dir)
				}
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	info := BlobInfo{Hash: "abc"}
	if got := (&GCSBlobstore{Bucket: "b"}).objectKey(info); got != "abc" {
		t.Errorf("expected abc, got %s", got)
	}
	if got := (&GCSBlobstore{Bucket: "b", Prefix: "p/q"}).objectKey(info); got != "p/q/abc" {
		t.Errorf("expected p/q/abc, got %s", got)
	}
}

func TestDirBlobstoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "minmax.bin")
	if err := os.WriteFile(src, []byte("dump contents"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := HashFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Hash) != 64 {
		t.Fatalf("expected a sha256 hex digest, got %q", info.Hash)
	}

	store := &DirBlobstore{Dir: filepath.Join(dir, "store")}
	if err := store.Upload(ctx, src, info); err != nil {
		t.Fatal(err)
	}
	// A second upload of the same hash is a no-op.
	if err := store.Upload(ctx, filepath.Join(dir, "does-not-exist"), info); err != nil {
		t.Errorf("expected existing blob to short-circuit, got %v", err)
	}

	dest := filepath.Join(dir, "restored.bin")
	if err := store.Download(ctx, info, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil || string(got) != "dump contents" {
		t.Errorf("unexpected download %q (%v)", got, err)
	}

	err = store.Download(ctx, BlobInfo{Hash: "missing"}, filepath.Join(dir, "x"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}
