package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// PartSuffix marks in-flight temporary files. Scanners never match it.
const PartSuffix = ".part"

// Exists reports whether path exists. Errors other than not-exist count as existing.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// Present reports whether path exists. Unlike Exists it returns stat
// failures other than not-exist, such as a regular file in place of a
// parent folder.
func Present(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// dst keeps the source permissions. Removes dst on mismatch.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, dstHasher), io.TeeReader(in, srcHasher))
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}

	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

// Move renames src to dst without clobbering an existing dst. Across
// filesystems it falls back to a verified copy staged next to dst, a rename
// into place, and removal of src.
func Move(src, dst string) error {
	if Exists(dst) {
		return fmt.Errorf("move %s: %w", dst, fs.ErrExist)
	}
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, unix.EXDEV) {
		return err
	}

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+PartSuffix)
	if err := CopyFileVerified(src, tmp); err != nil {
		return fmt.Errorf("cross-device copy %s: %w", src, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

// WriteStaged materializes dst by writing into a temporary file under
// stageDir and renaming it into place. stageDir must be on the same
// filesystem as dst. Fails with fs.ErrExist when dst already exists.
func WriteStaged(stageDir, dst string, write func(io.Writer) error) error {
	if Exists(dst) {
		return fmt.Errorf("write %s: %w", dst, fs.ErrExist)
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	tmp, err := os.CreateTemp(stageDir, filepath.Base(dst)+".*"+PartSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := write(tmp); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if Exists(dst) {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", dst, fs.ErrExist)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
