package oci

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Copies a host path into the container.
//
// Relative sources resolve against the current process working directory,
// which the harness sets to the definition's own directory. A relative
// destination resolves against the staged WORKDIR, falling back to the
// container root. The transfer pipes a tar stream to "tar xf -" inside the
// container.
func (w *working) Add(ctx context.Context, src, dst string) error {
	if w.dead {
		return ErrCommitted
	}

	if !filepath.IsAbs(src) {
		abs, err := filepath.Abs(src)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBackend, err)
		}
		src = abs
	}

	if !filepath.IsAbs(dst) {
		base := w.workdir
		if base == "" {
			base = "/"
		}
		dst = filepath.Join(base, dst)
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}

	destDir := filepath.Dir(dst)
	if err := w.mkdirAll(ctx, destDir); err != nil {
		return err
	}

	slog.Debug("copying into container", "src", src, "dst", dst, "dir", info.IsDir())

	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		var writeErr error

		if info.IsDir() {
			writeErr = writeDirToTar(tw, src, filepath.Base(dst))
		} else {
			writeErr = writeFileToTar(tw, src, filepath.Base(dst))
		}

		tw.Close()
		pw.CloseWithError(writeErr)
	}()

	return w.copyTo(ctx, pr, destDir)
}

// Extracts a tar stream into a directory inside the container.
func (w *working) copyTo(ctx context.Context, r io.Reader, destDir string) error {
	return w.mustExec(ctx, "tar extract", r, nil, "tar", "xf", "-", "-C", destDir)
}

// Writes a single file to a tar writer with the given archive name.
func writeFileToTar(tw *tar.Writer, hostPath, name string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// Writes a directory tree to a tar writer rooted at the given archive prefix.
func writeDirToTar(tw *tar.Writer, hostDir, prefix string) error {
	return filepath.WalkDir(hostDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(hostDir, path)
		if err != nil {
			return err
		}

		archivePath := filepath.ToSlash(filepath.Join(prefix, relPath))
		return writeTarEntry(tw, path, archivePath, d)
	})
}

// Writes a single file or directory entry to a tar writer.
func writeTarEntry(tw *tar.Writer, hostPath, archivePath string, d os.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = archivePath

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	return nil
}
