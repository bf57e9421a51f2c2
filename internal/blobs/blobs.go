// Package blobs stores min/max dumps and other artifacts by content hash.
package blobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/23skdu/longbow-lattice/internal/logger"
)

type BlobReader interface {
	// If no such object exists, Download returns an error for which
	// errors.Is(err, os.ErrNotExist) is true.
	Download(ctx context.Context, info BlobInfo, destPath string) error
}

type Blobstore interface {
	BlobReader
	// Upload stores the file at sourcePath under info.Hash. If an object
	// with that hash exists, Upload does nothing and returns no error.
	Upload(ctx context.Context, sourcePath string, info BlobInfo) error
}

type BlobInfo struct {
	Hash string
}

// HashFile returns the hex sha256 of a file, used as its object key.
func HashFile(path string) (BlobInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return BlobInfo{}, fmt.Errorf("hashing file: %w", err)
	}
	return BlobInfo{Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

// Open returns the store for a gs://bucket[/prefix] URL or a local directory.
func Open(location string) (Blobstore, error) {
	if rest, ok := strings.CutPrefix(location, "gs://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid GCS location %q", location)
		}
		return &GCSBlobstore{Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
	}
	return &DirBlobstore{Dir: location}, nil
}

// DirBlobstore keeps blobs as files in a local directory.
type DirBlobstore struct {
	Dir string
}

var _ Blobstore = (*DirBlobstore)(nil)

func (d *DirBlobstore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	dest := filepath.Join(d.Dir, info.Hash)
	if _, err := os.Stat(dest); err == nil {
		logger.Log.Info("blob already exists", "path", dest)
		return nil
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	n, err := writeToFile(src, dest)
	if err != nil {
		return err
	}
	logger.Log.Info("stored blob", "source", sourcePath, "path", dest, "bytes", n)
	return nil
}

func (d *DirBlobstore) Download(ctx context.Context, info BlobInfo, destPath string) error {
	src, err := os.Open(filepath.Join(d.Dir, info.Hash))
	if err != nil {
		return fmt.Errorf("opening blob: %w", err)
	}
	defer src.Close()
	_, err = writeToFile(src, destPath)
	return err
}

// writeToFile writes through a temp file in the destination directory, so a
// partial download never appears under destinationPath.
func writeToFile(src io.Reader, destinationPath string) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(destinationPath), "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				logger.Log.Error("removing temp file", err, "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				logger.Log.Error("closing temp file", err, "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		return n, fmt.Errorf("copying blob: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return n, nil
}
