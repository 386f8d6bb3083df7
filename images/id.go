package images

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var ErrInvalidImageID = errors.New("invalid image id")
var ErrUnknownSite = errors.New("site has no registered mapper")
var ErrAmbiguous = errors.New("ambiguous image id")

const (
	idPrefix = "ImageId("
	idSuffix = ")"
)

// ImageID identifies an image in a dataset. It is a non-empty sequence of
// string parts and an optional site. An empty site means the id has no site.
type ImageID struct {
	site  string
	parts []string
}

// NewImageID builds an id from parts. Parts that look like serialized ids
// are rejected so that callers use FromString or FromJSON instead.
func NewImageID(site string, parts ...string) (ImageID, error) {
	if len(parts) == 0 {
		return ImageID{}, errors.Wrap(ErrInvalidImageID, "can not create an empty ImageId()")
	}

	for _, p := range parts {
		if p == "" {
			return ImageID{}, errors.Wrapf(ErrInvalidImageID, "empty part in %q", parts)
		}
	}

	first := parts[0]
	if strings.HasPrefix(first, idPrefix) && strings.HasSuffix(first, idSuffix) {
		return ImageID{}, errors.Wrap(ErrInvalidImageID, "use FromString() to convert a serialized object")
	}
	if first[0] == '{' && first[len(first)-1] == '}' && strings.Contains(first, `"image_id":`) {
		return ImageID{}, errors.Wrap(ErrInvalidImageID, "use FromJSON() to convert a serialized json object")
	}

	cp := make([]string, len(parts))
	copy(cp, parts)
	return ImageID{site: site, parts: cp}, nil
}

// MustImageID is NewImageID for ids known to be valid.
func MustImageID(site string, parts ...string) ImageID {
	id, err := NewImageID(site, parts...)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ImageID) Site() string {
	return id.site
}

func (id ImageID) Parts() []string {
	cp := make([]string, len(id.parts))
	copy(cp, id.parts)
	return cp
}

func (id ImageID) Last() string {
	if len(id.parts) == 0 {
		return ""
	}
	return id.parts[len(id.parts)-1]
}

func (id ImageID) IsZero() bool {
	return len(id.parts) == 0
}

// Equal compares parts only when either id has no site.
func (id ImageID) Equal(other ImageID) bool {
	if id.site != "" && other.site != "" && id.site != other.site {
		return false
	}

	if len(id.parts) != len(other.parts) {
		return false
	}

	for i := range id.parts {
		if id.parts[i] != other.parts[i] {
			return false
		}
	}

	return true
}

// String returns the canonical serialization, e.g. ImageId('a', 'b.svs', site='s').
func (id ImageID) String() string {
	var sb strings.Builder
	sb.WriteString(idPrefix)
	for i, p := range id.parts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quote(p))
	}
	if id.site != "" {
		sb.WriteString(", site=")
		sb.WriteString(quote(id.site))
	}
	sb.WriteString(idSuffix)
	return sb.String()
}

type jsonID struct {
	ImageID []string `json:"image_id"`
	Site    string   `json:"site,omitempty"`
}

// JSON returns the compact json form with sorted keys.
func (id ImageID) JSON() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding a struct of strings never fails
	_ = enc.Encode(jsonID{ImageID: id.parts, Site: id.site})
	return strings.TrimSuffix(buf.String(), "\n")
}

func (id ImageID) MarshalJSON() ([]byte, error) {
	return []byte(id.JSON()), nil
}

func (id *ImageID) UnmarshalJSON(b []byte) error {
	parsed, err := FromJSON(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// URLHash is the sha256 hex digest of the last part, or of the full
// serialization when full is set.
func (id ImageID) URLHash(full bool) string {
	s := id.Last()
	if full {
		s = id.String()
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FieldNames returns "site" followed by the field names of the site mapper.
func (id ImageID) FieldNames() ([]string, error) {
	m, err := mapperFor(id.site)
	if err != nil {
		return nil, err
	}
	return append([]string{"site"}, m.FieldNames()...), nil
}

// FSPath returns the id as a relative filesystem path.
func (id ImageID) FSPath() (string, error) {
	m, err := mapperFor(id.site)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.FSParts(id.Parts())...), nil
}

// FromString parses the output of String.
func FromString(s string) (ImageID, error) {
	if !strings.HasPrefix(s, idPrefix) || !strings.HasSuffix(s, idSuffix) {
		return ImageID{}, errors.Wrapf(ErrInvalidImageID, "provided image_id str is not an ImageId(), got: %q", s)
	}

	p := &idParser{s: s[len(idPrefix) : len(s)-len(idSuffix)]}
	id, err := p.parse()
	if err != nil {
		return ImageID{}, errors.Wrapf(ErrInvalidImageID, "provided image_id is not parsable: %q: %s", s, err.Error())
	}
	return id, nil
}

// FromJSON parses the output of JSON.
func FromJSON(s string) (ImageID, error) {
	if !gjson.Valid(s) {
		return ImageID{}, errors.Wrapf(ErrInvalidImageID, "provided image_id is not parsable: %q", s)
	}

	parts := gjson.Get(s, "image_id")
	if !parts.IsArray() {
		return ImageID{}, errors.Wrap(ErrInvalidImageID, "incorrectly formatted json: `image_id` not a list of strings")
	}

	var ps []string
	for _, r := range parts.Array() {
		if r.Type != gjson.String {
			return ImageID{}, errors.Wrapf(ErrInvalidImageID, "image_id part %s is not a string", r.Raw)
		}
		ps = append(ps, r.String())
	}

	site := gjson.Get(s, "site")
	if site.Exists() && site.Type != gjson.String && site.Type != gjson.Null {
		return ImageID{}, errors.Wrapf(ErrInvalidImageID, "site %s is not a string", site.Raw)
	}

	return NewImageID(site.String(), ps...)
}

// EnsureImageID converts ids, serialized ids and [site, part...] slices.
func EnsureImageID(v interface{}) (ImageID, error) {
	switch x := v.(type) {
	case ImageID:
		return x, nil
	case *ImageID:
		return *x, nil
	case []string:
		if len(x) < 2 {
			return ImageID{}, errors.Wrapf(ErrInvalidImageID, "expected [site, part, ...], got %q", x)
		}
		return NewImageID(x[0], x[1:]...)
	case string:
		if id, err := FromString(x); err == nil {
			return id, nil
		}
		if id, err := FromJSON(x); err == nil {
			return id, nil
		}
		return ImageID{}, errors.Wrapf(ErrInvalidImageID, "can't cast string %q to ImageId", x)
	default:
		return ImageID{}, errors.Wrapf(ErrInvalidImageID, "unsupported type %T", v)
	}
}

// MatchPartialIDsReversed finds the id in ids that matches id when comparing
// parts from the last one backwards, then the site. An id without site
// matches any site. ok is false when nothing matches.
func MatchPartialIDsReversed(ids []ImageID, id ImageID) (ImageID, bool, error) {
	candidates := ids
	for k := 1; ; k++ {
		if k > len(id.parts)+1 {
			return ImageID{}, false, errors.Wrapf(ErrAmbiguous, "%s -> %d candidates", id, len(candidates))
		}

		var next []ImageID
		for _, c := range candidates {
			if matchesFromEnd(c, id, k) {
				next = append(next, c)
			}
		}

		switch len(next) {
		case 0:
			return ImageID{}, false, nil
		case 1:
			return next[0], true, nil
		}

		if allIdentical(next) {
			return next[0], true, nil
		}

		candidates = next
	}
}

// matchesFromEnd compares the k-th element from the end of [site, parts...].
func matchesFromEnd(c, id ImageID, k int) bool {
	if k <= len(id.parts) {
		if k > len(c.parts) {
			return false
		}
		return c.parts[len(c.parts)-k] == id.parts[len(id.parts)-k]
	}

	if id.site == "" {
		return true
	}
	return k > len(c.parts) && c.site == id.site
}

func allIdentical(ids []ImageID) bool {
	for _, other := range ids[1:] {
		if other.String() != ids[0].String() {
			return false
		}
	}
	return true
}

// quote renders s the way a python repr() of a str does.
func quote(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}

	var sb strings.Builder
	sb.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == rune(q):
			sb.WriteByte('\\')
			sb.WriteByte(q)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			sb.WriteString(`\x`)
			sb.WriteString(hex.EncodeToString([]byte{byte(r)}))
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(q)
	return sb.String()
}

type idParser struct {
	s   string
	pos int
}

func (p *idParser) parse() (ImageID, error) {
	var parts []string
	var site string
	var siteSeen bool

	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			break
		}

		if strings.HasPrefix(p.s[p.pos:], "site") {
			p.pos += len("site")
			p.skipSpace()
			if !p.consume('=') {
				return ImageID{}, errors.New("expected '=' after site")
			}
			p.skipSpace()
			if strings.HasPrefix(p.s[p.pos:], "None") {
				p.pos += len("None")
			} else {
				v, err := p.literal()
				if err != nil {
					return ImageID{}, err
				}
				site = v
			}
			siteSeen = true
		} else {
			if siteSeen {
				return ImageID{}, errors.New("positional part after keyword argument")
			}
			v, err := p.literal()
			if err != nil {
				return ImageID{}, err
			}
			parts = append(parts, v)
		}

		p.skipSpace()
		if p.pos >= len(p.s) {
			break
		}
		if !p.consume(',') {
			return ImageID{}, errors.Errorf("unexpected %q at %d", p.s[p.pos], p.pos)
		}
	}

	return NewImageID(site, parts...)
}

func (p *idParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *idParser) consume(c byte) bool {
	if p.pos < len(p.s) && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *idParser) literal() (string, error) {
	if p.pos >= len(p.s) {
		return "", errors.New("unexpected end of input")
	}

	q := p.s[p.pos]
	if q != '\'' && q != '"' {
		return "", errors.Errorf("expected string literal at %d", p.pos)
	}
	p.pos++

	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch {
		case c == q:
			p.pos++
			return sb.String(), nil
		case c == '\\':
			if p.pos+1 >= len(p.s) {
				return "", errors.New("dangling escape")
			}
			e := p.s[p.pos+1]
			p.pos += 2
			switch e {
			case '\\', '\'', '"':
				sb.WriteByte(e)
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'x':
				if p.pos+2 > len(p.s) {
					return "", errors.New("short \\x escape")
				}
				n, err := strconv.ParseUint(p.s[p.pos:p.pos+2], 16, 8)
				if err != nil {
					return "", errors.Wrap(err, "bad \\x escape")
				}
				sb.WriteRune(rune(n))
				p.pos += 2
			default:
				return "", errors.Errorf("unsupported escape \\%c", e)
			}
		default:
			r, size := utf8.DecodeRuneInString(p.s[p.pos:])
			sb.WriteRune(r)
			p.pos += size
		}
	}

	return "", errors.New("unterminated string literal")
}

// Mapper translates the parts of ids of one site into filesystem parts.
type Mapper interface {
	FieldNames() []string
	FSParts(parts []string) []string
}

type filenameMapper struct{}

func (filenameMapper) FieldNames() []string           { return []string{"filename"} }
func (filenameMapper) FSParts(parts []string) []string { return parts }

var (
	mappersMu sync.RWMutex
	mappers   = map[string]Mapper{"": filenameMapper{}}
)

// RegisterMapper makes m responsible for ids of site.
func RegisterMapper(site string, m Mapper) error {
	if len(m.FieldNames()) == 0 {
		return errors.Errorf("mapper for %q declares no field names", site)
	}

	mappersMu.Lock()
	defer mappersMu.Unlock()

	if _, ok := mappers[site]; ok {
		return errors.Errorf("mapper: %q already registered", site)
	}
	mappers[site] = m
	return nil
}

func mapperFor(site string) (Mapper, error) {
	mappersMu.RLock()
	defer mappersMu.RUnlock()

	m, ok := mappers[site]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSite, "%q", site)
	}
	return m, nil
}
