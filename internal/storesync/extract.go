package storesync

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/Tener/ggp-aps/internal/xerrors"
)

// extractTarGz writes the regular files and directories of a gzipped tar
// into dst on fsys and returns the number of file bytes written.
func extractTarGz(fsys afero.Fs, data []byte, dst string, lim Limits) (int64, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	if err := fsys.MkdirAll(dst, 0o755); err != nil {
		return 0, xerrors.Wrapf(err, "create %s", dst)
	}

	tr := tar.NewReader(gr)
	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, xerrors.Wrap(err, "read tar header")
		}

		name, err := entryName(hdr.Name)
		if err != nil {
			return total, err
		}
		if name == "" {
			continue
		}
		target := path.Join(dst, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return total, xerrors.Wrapf(err, "create %s", target)
			}
		case tar.TypeReg:
			if hdr.Size > lim.File {
				return total, xerrors.Newf("%s exceeds the per-file limit (%d > %d)", name, hdr.Size, lim.File)
			}
			if err := fsys.MkdirAll(path.Dir(target), 0o755); err != nil {
				return total, xerrors.Wrapf(err, "create %s", path.Dir(target))
			}
			n, err := writeEntry(fsys, target, tr, lim.File)
			total += n
			if err != nil {
				return total, err
			}
			if total > lim.Total {
				return total, xerrors.Newf("bundle exceeds the total extract limit (%d bytes)", lim.Total)
			}
		default:
			// symlinks and hard links could point outside dst
			return total, xerrors.Newf("unsupported entry %s (type %q)", name, hdr.Typeflag)
		}
	}
}

// entryName cleans an archive path. "" means the archive root.
func entryName(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) || strings.Contains(raw, `\`) {
		return "", xerrors.Newf("invalid path in archive: %q", raw)
	}
	if path.IsAbs(raw) {
		return "", xerrors.Newf("absolute path in archive: %s", raw)
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", xerrors.Newf("path traversal in archive: %s", raw)
		}
	}
	name := path.Clean(raw)
	if name == "." {
		return "", nil
	}
	return name, nil
}

func writeEntry(fsys afero.Fs, target string, r io.Reader, limit int64) (int64, error) {
	f, err := fsys.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, xerrors.Wrapf(err, "create %s", target)
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, xerrors.Wrapf(err, "write %s", target)
	}
	if n > limit {
		return n, xerrors.Newf("%s exceeds the per-file limit after read", target)
	}
	return n, nil
}
