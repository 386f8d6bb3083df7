// Package annotations holds per image geometric annotations and the
// providers storing them.
package annotations

import (
	"sort"

	"github.com/denismitr/pado/images"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"
)

var ErrInvalidGeometry = errors.New("invalid annotation geometry")

// Annotation is a single labelled shape in level 0 pixel coordinates.
type Annotation struct {
	Identifier     string
	Project        string
	Provenance     string
	Classification string
	Color          string
	Description    string
	Comment        string
	Geometry       orb.Geometry
}

func (a Annotation) Area() float64 {
	if a.Geometry == nil {
		return 0
	}
	return planar.Area(a.Geometry)
}

func (a Annotation) Bound() orb.Bound {
	if a.Geometry == nil {
		return orb.Bound{}
	}
	return a.Geometry.Bound()
}

// Record is the serialized form of an Annotation, geometry as WKT.
type Record struct {
	ImageID        string `parquet:"image_id"`
	Identifier     string `parquet:"identifier"`
	Project        string `parquet:"project"`
	Provenance     string `parquet:"provenance"`
	Classification string `parquet:"classification"`
	Color          string `parquet:"color"`
	Description    string `parquet:"description"`
	Comment        string `parquet:"comment"`
	Geometry       string `parquet:"geometry"`
}

func (a Annotation) Record(id images.ImageID) Record {
	var g string
	if a.Geometry != nil {
		g = wkt.MarshalString(a.Geometry)
	}

	return Record{
		ImageID:        id.String(),
		Identifier:     a.Identifier,
		Project:        a.Project,
		Provenance:     a.Provenance,
		Classification: a.Classification,
		Color:          a.Color,
		Description:    a.Description,
		Comment:        a.Comment,
		Geometry:       g,
	}
}

func FromRecord(r Record) (Annotation, error) {
	a := Annotation{
		Identifier:     r.Identifier,
		Project:        r.Project,
		Provenance:     r.Provenance,
		Classification: r.Classification,
		Color:          r.Color,
		Description:    r.Description,
		Comment:        r.Comment,
	}

	if r.Geometry != "" {
		g, err := wkt.Unmarshal(r.Geometry)
		if err != nil {
			return Annotation{}, errors.Wrapf(ErrInvalidGeometry, "%s: %s", r.Geometry, err.Error())
		}
		a.Geometry = g
	}

	return a, nil
}

// Annotations are all annotations of one image.
type Annotations struct {
	ImageID images.ImageID
	Items   []Annotation
}

func (as *Annotations) Len() int {
	return len(as.Items)
}

// Filter keeps annotations with the given classification.
func (as *Annotations) Filter(classification string) *Annotations {
	out := &Annotations{ImageID: as.ImageID}
	for _, a := range as.Items {
		if a.Classification == classification {
			out.Items = append(out.Items, a)
		}
	}
	return out
}

// Intersecting keeps annotations whose bound intersects b.
func (as *Annotations) Intersecting(b orb.Bound) *Annotations {
	out := &Annotations{ImageID: as.ImageID}
	for _, a := range as.Items {
		if a.Geometry != nil && a.Bound().Intersects(b) {
			out.Items = append(out.Items, a)
		}
	}
	return out
}

// Classifications returns the distinct non empty classifications, sorted.
func (as *Annotations) Classifications() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range as.Items {
		if a.Classification != "" && !seen[a.Classification] {
			seen[a.Classification] = true
			out = append(out, a.Classification)
		}
	}
	sort.Strings(out)
	return out
}
