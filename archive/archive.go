// Package archive implements the pack/unpack format described in spec.md
// §4.6: a gzip-compressed tar of a package directory, relative paths only,
// file mode 0o644, with unpack rejecting any entry that would escape the
// destination directory. It is a direct adaptation of
// hashicorp-go-slug's Pack/Unpack, generalized from Terraform's
// .terraformignore to knot's own default ignore set (spec.md §6) and
// trimmed of the symlink-dereference options that have no equivalent in
// spec.md's contract.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knotspace/knot/knoterr"
)

// Meta describes a packed archive's contents.
type Meta struct {
	Files []string
	Size  int64
}

const regularFileMode = 0o644

// Pack walks src, skipping anything matched by rules (see Rules), and
// writes a gzip-compressed tar of the remaining tree to w.
func Pack(src string, w io.Writer, rules []Rule) (*Meta, error) {
	gzipW, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	tarW := tar.NewWriter(gzipW)

	meta := &Meta{}
	if err := filepath.Walk(src, packWalkFn(src, tarW, meta, rules)); err != nil {
		return nil, err
	}

	if err := tarW.Close(); err != nil {
		return nil, fmt.Errorf("failed to close the tar archive: %w", err)
	}
	if err := gzipW.Close(); err != nil {
		return nil, fmt.Errorf("failed to close the gzip writer: %w", err)
	}
	return meta, nil
}

func packWalkFn(src string, tarW *tar.Writer, meta *Meta, rules []Rule) filepath.WalkFunc {
	return func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		subpath, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %q: %w", path, err)
		}
		if subpath == "." {
			return nil
		}

		if Match(subpath, info.IsDir(), rules) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		mode := info.Mode()
		header := &tar.Header{
			Name:    filepath.ToSlash(subpath),
			ModTime: info.ModTime(),
			Mode:    regularFileMode,
		}

		writeBody := false
		switch {
		case info.IsDir():
			header.Typeflag = tar.TypeDir
			header.Name += "/"
		case mode.IsRegular():
			header.Typeflag = tar.TypeReg
			header.Size = info.Size()
			writeBody = true
		case mode&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read symlink %q: %w", path, err)
			}
			if filepath.IsAbs(target) {
				// An absolute symlink target can't be represented relative
				// to the unpack destination; skip it rather than embed a
				// path that would be meaningless on another machine.
				return nil
			}
			header.Typeflag = tar.TypeSymlink
			header.Linkname = filepath.ToSlash(target)
		default:
			return nil
		}

		if err := tarW.WriteHeader(header); err != nil {
			return fmt.Errorf("failed writing archive header for %q: %w", path, err)
		}
		meta.Files = append(meta.Files, header.Name)

		if !writeBody {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed opening %q for archiving: %w", path, err)
		}
		defer f.Close()

		size, err := io.Copy(tarW, f)
		if err != nil {
			return fmt.Errorf("failed copying %q into archive: %w", path, err)
		}
		meta.Size += size
		return nil
	}
}

// Unpack decompresses and extracts r into dst, which must already exist.
// Any entry whose normalized path would land outside dst is rejected
// (path-traversal / zip-slip defense), adapted from hashicorp-go-slug's
// Unpack.
func Unpack(r io.Reader, dst string) error {
	uncompressed, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to decompress archive: %w", err)
	}
	untar := tar.NewReader(uncompressed)

	cleanDst := filepath.Clean(dst)

	for {
		header, err := untar.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		name := header.Name
		if strings.HasPrefix(name, "/") {
			name = name[1:]
		}
		target := filepath.Clean(filepath.Join(cleanDst, name))
		if target != cleanDst && !strings.HasPrefix(target, cleanDst+string(os.PathSeparator)) {
			return &knoterr.IOError{
				Operation: "unpack",
				Path:      header.Name,
				Reason:    "entry path escapes the destination directory",
			}
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, untar, header); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return &knoterr.IOError{Operation: "unpack", Path: header.Name, Reason: "absolute symlink targets are not permitted"}
			}
			linkTarget := filepath.Clean(filepath.Join(filepath.Dir(target), header.Linkname))
			if linkTarget != cleanDst && !strings.HasPrefix(linkTarget, cleanDst+string(os.PathSeparator)) {
				return &knoterr.IOError{Operation: "unpack", Path: header.Name, Reason: "symlink target escapes the destination directory"}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, header *tar.Header) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, regularFileMode)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", target, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed writing %q: %w", target, err)
	}
	return f.Chmod(os.FileMode(header.Mode).Perm())
}
