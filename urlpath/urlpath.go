// Package urlpath resolves pado urlpaths onto afero filesystems.
//
// A urlpath is either a plain local path, a "<protocol>://<path>" url, or a
// JSON descriptor of the form {"fs": {"protocol": "memory"}, "path": "/x"}.
// Protocols map to registered afero filesystems; "file" and "memory" are
// always available.
package urlpath

import (
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

const (
	ProtocolFile   = "file"
	ProtocolMemory = "memory"
)

var ErrUnknownProtocol = errors.New("unknown urlpath protocol")
var ErrInvalidURLPath = errors.New("invalid urlpath")

// Options are storage options applied on top of the protocol filesystem.
type Options map[string]interface{}

var (
	mu          sync.RWMutex
	filesystems = map[string]afero.Fs{
		ProtocolFile:   afero.NewOsFs(),
		ProtocolMemory: afero.NewMemMapFs(),
	}
)

// Register makes fs available under protocol, replacing a previous registration.
func Register(protocol string, fs afero.Fs) {
	mu.Lock()
	defer mu.Unlock()
	filesystems[protocol] = fs
}

// Filesystem returns the filesystem registered for protocol.
func Filesystem(protocol string) (afero.Fs, error) {
	mu.RLock()
	defer mu.RUnlock()

	fs, ok := filesystems[protocol]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProtocol, "%q", protocol)
	}
	return fs, nil
}

// ResetMemory replaces the memory filesystem with an empty one.
func ResetMemory() afero.Fs {
	fs := afero.NewMemMapFs()
	Register(ProtocolMemory, fs)
	return fs
}

// Split returns the protocol and the filesystem path of urlpath.
func Split(urlpath string) (string, string, error) {
	s := strings.TrimSpace(urlpath)
	if s == "" {
		return "", "", errors.Wrap(ErrInvalidURLPath, "empty urlpath")
	}

	if strings.HasPrefix(s, "{") {
		if !gjson.Valid(s) {
			return "", "", errors.Wrapf(ErrInvalidURLPath, "malformed json descriptor %s", s)
		}

		p := gjson.Get(s, "path")
		if !p.Exists() {
			return "", "", errors.Wrapf(ErrInvalidURLPath, "json descriptor without path %s", s)
		}

		proto := gjson.Get(s, "fs.protocol")
		if proto.IsArray() {
			proto = proto.Array()[0]
		}

		protocol := proto.String()
		if protocol == "" {
			protocol = ProtocolFile
		}

		return protocol, normalize(protocol, p.String()), nil
	}

	if i := strings.Index(s, "://"); i > 0 {
		protocol := s[:i]
		return protocol, normalize(protocol, s[i+3:]), nil
	}

	return ProtocolFile, s, nil
}

func normalize(protocol, p string) string {
	if protocol == ProtocolFile {
		return filepath.FromSlash(p)
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Format builds a urlpath from protocol and path. Local paths stay plain.
func Format(protocol, p string) string {
	if protocol == "" || protocol == ProtocolFile {
		return p
	}
	return protocol + "://" + normalize(protocol, p)
}

// Resolve returns the filesystem and path urlpath points to.
func Resolve(urlpath string, opts Options) (afero.Fs, string, error) {
	protocol, p, err := Split(urlpath)
	if err != nil {
		return nil, "", err
	}

	fs, err := Filesystem(protocol)
	if err != nil {
		return nil, "", err
	}

	if root, ok := opts["root"].(string); ok && root != "" {
		fs = afero.NewBasePathFs(fs, root)
	}

	if ro, ok := opts["readonly"].(bool); ok && ro {
		fs = afero.NewReadOnlyFs(fs)
	}

	return fs, p, nil
}

// Join appends elements to the path part of urlpath.
func Join(urlpath string, elem ...string) (string, error) {
	protocol, p, err := Split(urlpath)
	if err != nil {
		return "", err
	}

	if protocol == ProtocolFile {
		return filepath.Join(append([]string{p}, elem...)...), nil
	}

	return Format(protocol, path.Join(append([]string{p}, elem...)...)), nil
}

// Parts returns the path components of urlpath without the protocol.
func Parts(urlpath string) ([]string, error) {
	_, p, err := Split(urlpath)
	if err != nil {
		return nil, err
	}
	return splitParts(p), nil
}

func splitParts(p string) []string {
	p = filepath.ToSlash(p)
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			parts = append(parts, s)
		}
	}
	return parts
}
