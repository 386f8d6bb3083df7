package annotations

import (
	"fmt"
	"io"

	"github.com/denismitr/pado/urlpath"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Loader reads the annotations stored in a file. ok is false when the file
// holds none.
type Loader func(file urlpath.FileAndParts) (as *Annotations, ok bool, err error)

// GeoJSONLoader reads a FeatureCollection, a bare feature list or a single
// Feature, as exported by QuPath and similar tools. Files may be gzipped.
func GeoJSONLoader(file urlpath.FileAndParts) (*Annotations, bool, error) {
	r, err := urlpath.Uncompressed(file.URLPath, file.Options)
	if err != nil {
		return nil, false, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, errors.Wrapf(err, "could not read %s", file.URLPath)
	}

	as, err := ParseGeoJSON(data)
	if err != nil {
		return nil, false, errors.Wrapf(err, "%s", file.URLPath)
	}

	return as, as.Len() > 0, nil
}

// ParseGeoJSON converts features into annotations without image id.
func ParseGeoJSON(data []byte) (*Annotations, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.Wrap(ErrInvalidGeometry, "malformed geojson")
	}

	doc := gjson.ParseBytes(data)

	var features []gjson.Result
	switch {
	case doc.IsArray():
		features = doc.Array()
	case doc.Get("type").String() == "FeatureCollection":
		features = doc.Get("features").Array()
	case doc.Get("type").String() == "Feature":
		features = []gjson.Result{doc}
	default:
		return nil, errors.Wrapf(ErrInvalidGeometry, "unsupported geojson type %q", doc.Get("type").String())
	}

	as := &Annotations{}
	for i, f := range features {
		raw := f.Get("geometry")
		if !raw.Exists() || raw.Type == gjson.Null {
			continue
		}

		g, err := geojson.UnmarshalGeometry([]byte(raw.Raw))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidGeometry, "feature %d: %s", i, err.Error())
		}

		props := f.Get("properties")
		a := Annotation{
			Identifier:  f.Get("id").String(),
			Project:     props.Get("project").String(),
			Provenance:  props.Get("provenance").String(),
			Description: props.Get("name").String(),
			Comment:     props.Get("comment").String(),
			Geometry:    g.Geometry(),
		}

		cls := props.Get("classification")
		if cls.IsObject() {
			a.Classification = cls.Get("name").String()
			if rgb := cls.Get("colorRGB"); rgb.Exists() {
				a.Color = colorFromRGB(rgb.Int())
			}
		} else {
			a.Classification = cls.String()
		}

		if a.Color == "" {
			a.Color = props.Get("color").String()
		}

		as.Items = append(as.Items, a)
	}

	return as, nil
}

// colorFromRGB formats a packed (A)RGB integer as #rrggbb.
func colorFromRGB(v int64) string {
	return fmt.Sprintf("#%06x", uint32(v)&0xffffff)
}
