package images

import (
	"time"

	"github.com/pkg/errors"
)

// Record is the serialized form of an Image. Times are unix nanoseconds,
// zero meaning unknown.
type Record struct {
	URLPath        string `parquet:"urlpath"`
	Backend        string `parquet:"pado_image_backend"`
	BackendVersion string `parquet:"pado_image_backend_version"`

	Width           int64     `parquet:"width"`
	Height          int64     `parquet:"height"`
	ObjectivePower  string    `parquet:"objective_power"`
	MPPX            float64   `parquet:"mpp_x"`
	MPPY            float64   `parquet:"mpp_y"`
	Downsamples     []float64 `parquet:"downsamples"`
	Vendor          string    `parquet:"vendor"`
	Comment         string    `parquet:"comment"`
	QuickHash1      string    `parquet:"quickhash1"`
	BackgroundColor string    `parquet:"background_color"`
	BoundsX         int64     `parquet:"bounds_x"`
	BoundsY         int64     `parquet:"bounds_y"`
	BoundsWidth     int64     `parquet:"bounds_width"`
	BoundsHeight    int64     `parquet:"bounds_height"`
	ExtraJSON       string    `parquet:"extra_json"`

	SizeBytes         int64  `parquet:"size_bytes"`
	MD5Computed       string `parquet:"md5_computed"`
	TimeLastAccess    int64  `parquet:"time_last_access"`
	TimeLastModified  int64  `parquet:"time_last_modified"`
	TimeStatusChanged int64  `parquet:"time_status_changed"`
}

// Record serializes the image. Metadata and file info must be loaded.
func (img *Image) Record() (Record, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.metadata == nil || img.fileInfo == nil {
		return Record{}, errors.Wrapf(ErrNotOpen, "%s has no loaded metadata and file info", img)
	}

	md, fi := img.metadata, img.fileInfo
	ds := make([]float64, len(md.Downsamples))
	copy(ds, md.Downsamples)

	return Record{
		URLPath:        img.urlpath,
		Backend:        img.backend,
		BackendVersion: img.backendVersion,

		Width:           int64(md.Width),
		Height:          int64(md.Height),
		ObjectivePower:  md.ObjectivePower,
		MPPX:            md.MPPX,
		MPPY:            md.MPPY,
		Downsamples:     ds,
		Vendor:          md.Vendor,
		Comment:         md.Comment,
		QuickHash1:      md.QuickHash1,
		BackgroundColor: md.BackgroundColor,
		BoundsX:         int64(md.BoundsX),
		BoundsY:         int64(md.BoundsY),
		BoundsWidth:     int64(md.BoundsWidth),
		BoundsHeight:    int64(md.BoundsHeight),
		ExtraJSON:       md.ExtraJSON,

		SizeBytes:         fi.SizeBytes,
		MD5Computed:       fi.MD5,
		TimeLastAccess:    unixNano(fi.ATime),
		TimeLastModified:  unixNano(fi.MTime),
		TimeStatusChanged: unixNano(fi.CTime),
	}, nil
}

// ImageFromRecord restores an unopened image with metadata and file info set.
func ImageFromRecord(rec Record) (*Image, error) {
	md := &ImageMetadata{
		Width:           int(rec.Width),
		Height:          int(rec.Height),
		ObjectivePower:  rec.ObjectivePower,
		MPPX:            rec.MPPX,
		MPPY:            rec.MPPY,
		Downsamples:     append([]float64(nil), rec.Downsamples...),
		Vendor:          rec.Vendor,
		Comment:         rec.Comment,
		QuickHash1:      rec.QuickHash1,
		BackgroundColor: rec.BackgroundColor,
		BoundsX:         int(rec.BoundsX),
		BoundsY:         int(rec.BoundsY),
		BoundsWidth:     int(rec.BoundsWidth),
		BoundsHeight:    int(rec.BoundsHeight),
		ExtraJSON:       rec.ExtraJSON,
	}
	if err := md.validate(); err != nil {
		return nil, errors.Wrapf(err, "record of %s", rec.URLPath)
	}

	return &Image{
		urlpath:        rec.URLPath,
		metadata:       md,
		backend:        rec.Backend,
		backendVersion: rec.BackendVersion,
		fileInfo: &FileInfo{
			SizeBytes: rec.SizeBytes,
			MD5:       rec.MD5Computed,
			ATime:     fromUnixNano(rec.TimeLastAccess),
			MTime:     fromUnixNano(rec.TimeLastModified),
			CTime:     fromUnixNano(rec.TimeStatusChanged),
		},
	}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
