// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// excludedDirs are workspace entries never captured in an archive. The same
// set is skipped on restore so the dependency directory and build caches
// survive rollbacks untouched.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".next":        true,
	"dist":         true,
	".turbo":       true,
}

// DependencyDir is the workspace entry preserved across restores.
const DependencyDir = "node_modules"

// writeTarGz archives srcDir into a gzip-compressed tarball at destPath,
// skipping the excluded directories at any depth.
func writeTarGz(srcDir, destPath string) (err error) {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", destPath, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	walkErr := filepath.WalkDir(srcDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && excludedDirs[d.Name()] {
			return filepath.SkipDir
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		// Symlinks and other irregular entries are not captured; the workspace
		// template does not produce them and the dev server does not need them.
		if !info.Mode().IsRegular() && !d.IsDir() {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(tw, f)
		if closeErr := f.Close(); closeErr != nil {
			slog.Error("failed to close archived file", "path", path, "error", closeErr)
		}
		return copyErr
	})
	if walkErr != nil {
		return fmt.Errorf("archiving %s: %w", srcDir, walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finalizing gzip: %w", err)
	}
	return nil
}

// extractTarGz unpacks the archive at srcPath into targetDir. Entry paths are
// verified to stay inside targetDir before any write.
func extractTarGz(srcPath, targetDir string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", srcPath, err)
	}
	defer func() {
		if err := in.Close(); err != nil {
			slog.Error("failed to close archive", "path", srcPath, "error", err)
		}
	}()

	uncompressedStream, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("gzip.NewReader failed: %w", err)
	}
	defer func() {
		if err := uncompressedStream.Close(); err != nil {
			slog.Error("failed to close gzip reader", "error", err)
		}
	}()

	tarReader := tar.NewReader(uncompressedStream)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		targetPath := filepath.Join(targetDir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(filepath.Clean(targetPath), filepath.Clean(targetDir)+string(filepath.Separator)) {
			return fmt.Errorf("%w: %q", ErrUnsafeArchivePath, header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return err
			}
			outFile, err := os.Create(targetPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(outFile, tarReader); err != nil {
				if closeErr := outFile.Close(); closeErr != nil {
					slog.Error("failed to close file after copy error", "path", targetPath, "error", closeErr)
				}
				return err
			}
			if err := outFile.Close(); err != nil {
				slog.Error("failed to close extracted file", "path", targetPath, "error", err)
			}
			if err := os.Chmod(targetPath, os.FileMode(header.Mode)); err != nil {
				slog.Error("failed to chmod extracted file", "path", targetPath, "error", err)
			}
		}
	}
	return nil
}
