package urlpath

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const DefaultFilePerm os.FileMode = 0644

// FileAndParts is a file found below a search root. Parts are the path
// components relative to that root. Options are the storage options the
// urlpath resolves with.
type FileAndParts struct {
	URLPath string
	Parts   []string
	Options Options
}

// FindFiles walks the tree under urlpath and returns all files whose path
// relative to urlpath matches glob. "**" matches across directories.
func FindFiles(ctx context.Context, urlpath, glob string, opts Options) ([]FileAndParts, error) {
	if !doublestar.ValidatePattern(glob) {
		return nil, errors.Errorf("invalid glob pattern %q", glob)
	}

	protocol, root, err := Split(urlpath)
	if err != nil {
		return nil, err
	}

	fs, _, err := Resolve(urlpath, opts)
	if err != nil {
		return nil, err
	}

	var found []FileAndParts
	err = afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return errors.Wrapf(err, "could not relativize %s", p)
		}

		rel = filepath.ToSlash(rel)
		ok, err := doublestar.Match(glob, rel)
		if err != nil {
			return err
		}

		if ok {
			found = append(found, FileAndParts{
				URLPath: Format(protocol, p),
				Parts:   splitParts(rel),
				Options: opts,
			})
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not search %s", urlpath)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].URLPath < found[j].URLPath })
	return found, nil
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Uncompressed opens urlpath and transparently decompresses gzip content.
func Uncompressed(urlpath string, opts Options) (io.ReadCloser, error) {
	fs, p, err := Resolve(urlpath, opts)
	if err != nil {
		return nil, err
	}

	f, err := fs.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", urlpath)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "could not decompress %s", urlpath)
		}
		return &multiCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil
	}

	return &multiCloser{Reader: br, closers: []io.Closer{f}}, nil
}

// ReadFile reads the whole content of urlpath.
func ReadFile(urlpath string, opts Options) ([]byte, error) {
	fs, p, err := Resolve(urlpath, opts)
	if err != nil {
		return nil, err
	}

	b, err := afero.ReadFile(fs, p)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", urlpath)
	}
	return b, nil
}

// Exists reports whether urlpath points to an existing file or directory.
func Exists(urlpath string, opts Options) (bool, error) {
	fs, p, err := Resolve(urlpath, opts)
	if err != nil {
		return false, err
	}
	return afero.Exists(fs, p)
}

// WriteAtomic writes data to a sibling tmp file and renames it over p.
func WriteAtomic(fs afero.Fs, p string, data []byte) error {
	if err := fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.Wrapf(err, "could not create parent of %s", p)
	}

	tmp := p + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return errors.Wrapf(err, "could not create tmp file %s", tmp)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		fs.Remove(tmp)
		return errors.Wrapf(err, "could not write to tmp file %s", tmp)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		fs.Remove(tmp)
		return errors.Wrapf(err, "could not sync tmp file %s", tmp)
	}

	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return errors.Wrapf(err, "could not close tmp file %s", tmp)
	}

	if err := fs.Rename(tmp, p); err != nil {
		fs.Remove(tmp)
		return errors.Wrapf(err, "could not replace %s with %s", p, tmp)
	}

	return nil
}

// Checksum returns the md5 hex digest of the file content.
func Checksum(fs afero.Fs, p string) (string, error) {
	f, err := fs.Open(p)
	if err != nil {
		return "", errors.Wrapf(err, "could not open %s", p)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "could not hash %s", p)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
