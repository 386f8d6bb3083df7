// Package metadata keeps free form JSON records per image id.
package metadata

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var ErrInvalidJSON = errors.New("metadata record is not a json object")
var ErrJSONPathInvalid = errors.New("json path is invalid")
var ErrCouldNotBeUnmarshalled = errors.New("record could not be unmarshalled into the destination")

// Record is a single JSON object describing an image.
type Record struct {
	b []byte
}

func NewRecord(raw []byte) (Record, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return Record{}, errors.Wrapf(ErrInvalidJSON, "%.64s", raw)
	}
	return Record{b: append([]byte(nil), raw...)}, nil
}

func MustRecord(raw string) Record {
	r, err := NewRecord([]byte(raw))
	if err != nil {
		panic(err)
	}
	return r
}

func (r Record) Raw() []byte {
	return append([]byte(nil), r.b...)
}

func (r Record) JSON() string {
	return string(r.b)
}

func (r Record) Equal(other Record) bool {
	return bytes.Equal(r.b, other.b)
}

// Keys returns the top level keys in document order.
func (r Record) Keys() []string {
	var keys []string
	gjson.ParseBytes(r.b).ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	return keys
}

func (r Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r.b, path)
}

func (r Record) Has(path string) bool {
	return gjson.GetBytes(r.b, path).Exists()
}

func (r Record) Unmarshal(dest interface{}) error {
	if err := json.Unmarshal(r.b, dest); err != nil {
		return errors.Wrap(ErrCouldNotBeUnmarshalled, err.Error())
	}
	return nil
}

func (r Record) lookup(path string) (gjson.Result, error) {
	get := gjson.GetBytes(r.b, path)
	if !get.Exists() {
		return get, errors.Wrapf(ErrJSONPathInvalid, "%q", path)
	}
	return get, nil
}

func (r Record) String(path string) (string, error) {
	get, err := r.lookup(path)
	if err != nil {
		return "", err
	}
	return get.String(), nil
}

func (r Record) StringOrDefault(path, def string) string {
	if v, err := r.String(path); err != nil {
		return def
	} else {
		return v
	}
}

func (r Record) Float(path string) (float64, error) {
	get, err := r.lookup(path)
	if err != nil {
		return 0, err
	}
	return get.Float(), nil
}

func (r Record) FloatOrDefault(path string, def float64) float64 {
	if v, err := r.Float(path); err != nil {
		return def
	} else {
		return v
	}
}

func (r Record) Int(path string) (int, error) {
	get, err := r.lookup(path)
	if err != nil {
		return 0, err
	}
	return int(get.Int()), nil
}

func (r Record) IntOrDefault(path string, def int) int {
	if v, err := r.Int(path); err != nil {
		return def
	} else {
		return v
	}
}

func (r Record) Bool(path string) (bool, error) {
	get, err := r.lookup(path)
	if err != nil {
		return false, err
	}
	return get.Bool(), nil
}

func (r Record) BoolOrDefault(path string, def bool) bool {
	if v, err := r.Bool(path); err != nil {
		return def
	} else {
		return v
	}
}

// Matches reports whether the value at path equals v. Numbers compare by
// value, everything else by its string form.
func (r Record) Matches(path string, v interface{}) bool {
	get := gjson.GetBytes(r.b, path)
	if !get.Exists() {
		return false
	}

	switch want := v.(type) {
	case nil:
		return get.Type == gjson.Null
	case bool:
		return (get.Type == gjson.True || get.Type == gjson.False) && get.Bool() == want
	case int:
		return get.Type == gjson.Number && get.Float() == float64(want)
	case int64:
		return get.Type == gjson.Number && get.Float() == float64(want)
	case float64:
		return get.Type == gjson.Number && get.Float() == want
	case string:
		return get.Type == gjson.String && get.String() == want
	default:
		return false
	}
}

// M builds records from go values.
type M map[string]interface{}

func (m M) Record() (Record, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Record{}, errors.Wrap(ErrInvalidJSON, err.Error())
	}
	return Record{b: b}, nil
}

// Keys returns the keys of m, sorted.
func (m M) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m M) String(k string) string {
	v, ok := m[k].(string)
	if !ok {
		return ""
	}
	return v
}

func (m M) HasString(k string) bool {
	_, ok := m[k].(string)
	return ok
}

func (m M) Int(k string) int {
	v, ok := m[k].(int)
	if !ok {
		return 0
	}
	return v
}

func (m M) HasInt(k string) bool {
	_, ok := m[k].(int)
	return ok
}

func (m M) Float(k string) float64 {
	v, ok := m[k].(float64)
	if !ok {
		return 0
	}
	return v
}

func (m M) HasFloat(k string) bool {
	_, ok := m[k].(float64)
	return ok
}

func (m M) Bool(k string) bool {
	v, ok := m[k].(bool)
	if !ok {
		return false
	}
	return v
}

func (m M) HasBool(k string) bool {
	_, ok := m[k].(bool)
	return ok
}
