package engine

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/3leaps/verifarm/pkg/submission"
)

// compressDir writes dir as a gzipped tarball at dest. Entry names are
// relative to dir's parent, so the archive unpacks to a single directory.
// A partial archive is removed on failure.
func compressDir(dir, dest string) (err error) {
	f, err := os.CreateTemp(filepath.Dir(dest), ".verifarm-archive-*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	tmpName := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	parent := filepath.Dir(dir)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", dir, err)
	}

	if err = tw.Close(); err != nil {
		return fmt.Errorf("finish tar: %w", err)
	}
	if err = gz.Close(); err != nil {
		return fmt.Errorf("finish gzip: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}

// dispose applies a passing job's disposition to its run directory.
func dispose(o Outcome) error {
	switch o.Disposition {
	case submission.DispositionCompress:
		if err := compressDir(o.RunPath, ArchivePath(o.RunPath)); err != nil {
			return &DispositionError{Op: "compress", RunPath: o.RunPath, Err: err}
		}
		if err := os.RemoveAll(o.RunPath); err != nil {
			return &DispositionError{Op: "remove", RunPath: o.RunPath, Err: err}
		}
	case submission.DispositionRemove:
		if err := os.RemoveAll(o.RunPath); err != nil {
			return &DispositionError{Op: "remove", RunPath: o.RunPath, Err: err}
		}
	}
	return nil
}
