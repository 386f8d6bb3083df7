package images

import (
	"io"
	"path"
	"strings"

	"github.com/denismitr/pado/urlpath"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// IDFunc derives an image id from a found file. ok is false when the file
// does not describe an image.
type IDFunc func(file urlpath.FileAndParts, identifier string) (id ImageID, ok bool, err error)

// IDFromParts uses the relative path parts as id and identifier as site.
func IDFromParts(file urlpath.FileAndParts, identifier string) (ImageID, bool, error) {
	id, err := NewImageID(identifier, file.Parts...)
	if err != nil {
		return ImageID{}, false, err
	}
	return id, true, nil
}

// IDFromPartsWithoutExtension is IDFromParts with the extension of the last
// part removed.
func IDFromPartsWithoutExtension(file urlpath.FileAndParts, identifier string) (ImageID, bool, error) {
	parts := make([]string, len(file.Parts))
	copy(parts, file.Parts)

	if n := len(parts); n > 0 {
		last := parts[n-1]
		if ext := path.Ext(last); ext != "" && ext != last {
			parts[n-1] = strings.TrimSuffix(last, ext)
		}
	}

	id, err := NewImageID(identifier, parts...)
	if err != nil {
		return ImageID{}, false, err
	}
	return id, true, nil
}

// IDFromJSONFile reads scan_name and scan_date from a (possibly gzipped)
// json sidecar. A scan_date of "fixme" yields an id without the date.
func IDFromJSONFile(file urlpath.FileAndParts, _ string) (ImageID, bool, error) {
	r, err := urlpath.Uncompressed(file.URLPath, file.Options)
	if err != nil {
		return ImageID{}, false, err
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return ImageID{}, false, errors.Wrapf(err, "could not read %s", file.URLPath)
	}

	data := string(b)
	if !gjson.Valid(data) {
		return ImageID{}, false, nil
	}

	fn := gjson.Get(data, "scan_name")
	sd := gjson.Get(data, "scan_date")
	if !fn.Exists() || !sd.Exists() {
		return ImageID{}, false, nil
	}

	var id ImageID
	if strings.EqualFold(sd.String(), "fixme") {
		id, err = NewImageID("", fn.String())
	} else {
		id, err = NewImageID("", sd.String(), fn.String())
	}
	if err != nil {
		return ImageID{}, false, err
	}

	return id, true, nil
}
