// Package store persists provider tables as single parquet files carrying
// pado metadata in the file key/value metadata.
//
// Every key is namespaced as "pado.<type>.parquet.<key>" and every value is
// JSON encoded.
package store

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/denismitr/pado/internal/buildinfo"
	"github.com/denismitr/pado/urlpath"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

type Type string

const (
	TypeImage      Type = "image"
	TypeAnnotation Type = "annotation"
	TypeMetadata   Type = "metadata"
)

const (
	KeyPadoVersion  = "pado_version"
	KeyStoreVersion = "store_version"
	KeyStoreType    = "store_type"
	KeyIdentifier   = "identifier"
	KeyUserMetadata = "user_metadata"
	KeyCreatedAt    = "created_at"
	KeyCreatedBy    = "created_by"
)

var ErrMigrationRequired = errors.New("store was written by an older store version, migrate the dataset")
var ErrUpgradeRequired = errors.New("store was written by a newer store version, update pado")
var ErrStoreTypeMismatch = errors.New("store type mismatch")
var ErrStoreCorrupted = errors.New("store could not be read")

// Setter stores a JSON encodable value under a store key.
type Setter func(key string, value interface{}) error

// Getter returns the decoded JSON value stored under a store key.
type Getter func(key string) (gjson.Result, bool)

// Hook lets a provider add and verify its own metadata keys.
type Hook interface {
	SetMetadata(set Setter) error
	GetMetadata(get Getter) (map[string]interface{}, error)
}

type Store struct {
	Version int
	Type    Type
	Hook    Hook
}

// Info is what a store read returns besides the rows.
type Info struct {
	Identifier   string
	PadoVersion  string
	StoreVersion int
	StoreType    Type
	CreatedAt    time.Time
	CreatedBy    string
	UserMetadata map[string]interface{}
	Extra        map[string]interface{}

	keys []string
}

// Keys lists the metadata keys found in the file, without prefix, sorted.
func (i *Info) Keys() []string {
	return i.keys
}

func (s *Store) Prefix() string {
	return "pado." + string(s.Type) + ".parquet"
}

func (s *Store) key(k string) string {
	return s.Prefix() + "." + k
}

// Write stores rows at p on fs, replacing an existing file atomically.
func Write[T any](s *Store, fs afero.Fs, p string, rows []T, identifier string, userMetadata map[string]interface{}) error {
	var opts []parquet.WriterOption
	set := func(key string, value interface{}) error {
		b, err := json.Marshal(value)
		if err != nil {
			return errors.Wrapf(err, "could not encode store metadata %s", key)
		}
		opts = append(opts, parquet.KeyValueMetadata(s.key(key), string(b)))
		return nil
	}

	var id interface{}
	if identifier != "" {
		id = identifier
	}

	for _, kv := range []struct {
		k string
		v interface{}
	}{
		{KeyIdentifier, id},
		{KeyPadoVersion, buildinfo.Version},
		{KeyStoreVersion, s.Version},
		{KeyStoreType, string(s.Type)},
		{KeyCreatedAt, time.Now().UTC().Format(time.RFC3339)},
		{KeyCreatedBy, buildinfo.CurrentUser()},
	} {
		if err := set(kv.k, kv.v); err != nil {
			return err
		}
	}

	if len(userMetadata) > 0 {
		if err := set(KeyUserMetadata, userMetadata); err != nil {
			return err
		}
	}

	if s.Hook != nil {
		if err := s.Hook.SetMetadata(set); err != nil {
			return err
		}
	}

	opts = append(opts, parquet.Compression(&parquet.Gzip))

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf, opts...)
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return errors.Wrapf(err, "could not write %d rows to %s", len(rows), p)
		}
	}

	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "could not finish parquet file %s", p)
	}

	return urlpath.WriteAtomic(fs, p, buf.Bytes())
}

// Read loads the rows stored at p and verifies store type and version.
func Read[T any](s *Store, fs afero.Fs, p string) ([]T, *Info, error) {
	data, err := afero.ReadFile(fs, p)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not read store %s", p)
	}

	r := bytes.NewReader(data)
	f, err := parquet.OpenFile(r, int64(len(data)))
	if err != nil {
		return nil, nil, errors.Wrapf(ErrStoreCorrupted, "%s: %s", p, err.Error())
	}

	md := make(map[string]string)
	prefix := s.Prefix() + "."
	for _, kv := range f.Metadata().KeyValueMetadata {
		if strings.HasPrefix(kv.Key, prefix) {
			md[strings.TrimPrefix(kv.Key, prefix)] = kv.Value
		}
	}
	info, get := parseInfo(md)

	if info.StoreVersion < s.Version {
		return nil, nil, errors.Wrapf(
			ErrMigrationRequired,
			"%s uses store version %d (created with pado==%s), expected %d",
			p, info.StoreVersion, info.PadoVersion, s.Version,
		)
	} else if info.StoreVersion > s.Version {
		return nil, nil, errors.Wrapf(
			ErrUpgradeRequired,
			"%s uses store version %d (created with pado==%s), expected %d",
			p, info.StoreVersion, info.PadoVersion, s.Version,
		)
	}

	if info.StoreType != s.Type {
		return nil, nil, errors.Wrapf(ErrStoreTypeMismatch, "%s has type %q, expected %q", p, info.StoreType, s.Type)
	}

	if s.Hook != nil {
		extra, err := s.Hook.GetMetadata(get)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "%s", p)
		}
		info.Extra = extra
	}

	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, errors.Wrapf(ErrStoreCorrupted, "%s: %s", p, err.Error())
	}

	return rows, info, nil
}

func parseInfo(md map[string]string) (*Info, Getter) {
	info := &Info{PadoVersion: "0.0.0", UserMetadata: make(map[string]interface{})}
	for k := range md {
		info.keys = append(info.keys, k)
	}
	sort.Strings(info.keys)

	get := func(key string) (gjson.Result, bool) {
		raw, ok := md[key]
		if !ok {
			return gjson.Result{}, false
		}
		return gjson.Parse(raw), true
	}

	if v, ok := get(KeyPadoVersion); ok {
		info.PadoVersion = v.String()
	}

	if v, ok := get(KeyIdentifier); ok && v.Type == gjson.String {
		info.Identifier = v.String()
	}

	if v, ok := get(KeyStoreVersion); ok {
		info.StoreVersion = int(v.Int())
	}

	if v, ok := get(KeyStoreType); ok {
		info.StoreType = Type(v.String())
	}

	if v, ok := get(KeyCreatedBy); ok {
		info.CreatedBy = v.String()
	}

	if v, ok := get(KeyCreatedAt); ok {
		if ts, err := time.Parse(time.RFC3339, v.String()); err == nil {
			info.CreatedAt = ts
		}
	}

	if v, ok := get(KeyUserMetadata); ok {
		if m, ok := v.Value().(map[string]interface{}); ok {
			info.UserMetadata = m
		}
	}

	return info, get
}

// Summary describes a store file without reading its rows.
type Summary struct {
	*Info
	Rows int64
}

// Inspect reads the metadata of any pado store. Versions are not checked.
func Inspect(fs afero.Fs, p string) (*Summary, error) {
	f, err := afero.ReadFile(fs, p)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read store %s", p)
	}

	pf, err := parquet.OpenFile(bytes.NewReader(f), int64(len(f)))
	if err != nil {
		return nil, errors.Wrapf(ErrStoreCorrupted, "%s: %s", p, err.Error())
	}

	for _, t := range []Type{TypeImage, TypeAnnotation, TypeMetadata} {
		prefix := (&Store{Type: t}).Prefix() + "."
		md := make(map[string]string)
		for _, kv := range pf.Metadata().KeyValueMetadata {
			if strings.HasPrefix(kv.Key, prefix) {
				md[strings.TrimPrefix(kv.Key, prefix)] = kv.Value
			}
		}
		if len(md) == 0 {
			continue
		}

		info, get := parseInfo(md)
		info.Extra = make(map[string]interface{})
		for _, k := range info.keys {
			if !baseKeys[k] {
				if v, ok := get(k); ok {
					info.Extra[k] = v.Value()
				}
			}
		}
		return &Summary{Info: info, Rows: pf.NumRows()}, nil
	}

	return nil, errors.Wrapf(ErrStoreCorrupted, "%s has no pado metadata", p)
}

var baseKeys = map[string]bool{
	KeyPadoVersion:  true,
	KeyStoreVersion: true,
	KeyStoreType:    true,
	KeyIdentifier:   true,
	KeyUserMetadata: true,
	KeyCreatedAt:    true,
	KeyCreatedBy:    true,
}

// VersionHook stores a single provider version key and rejects other versions.
type VersionHook struct {
	Key     string
	Version int
	Name    string
}

func (h VersionHook) SetMetadata(set Setter) error {
	return set(h.Key, h.Version)
}

func (h VersionHook) GetMetadata(get Getter) (map[string]interface{}, error) {
	v, ok := get(h.Key)
	if !ok || int(v.Int()) < h.Version {
		return nil, errors.Wrapf(ErrMigrationRequired, "please migrate %s to a newer version", h.Name)
	}

	if int(v.Int()) > h.Version {
		return nil, errors.Wrapf(ErrUpgradeRequired, "%s is newer, please upgrade pado", h.Name)
	}

	return map[string]interface{}{h.Key: int(v.Int())}, nil
}
