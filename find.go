package pado

import (
	"context"

	"github.com/denismitr/pado/images"
	"github.com/denismitr/pado/options"
	"github.com/tidwall/btree"
)

func byID(a, b interface{}) bool {
	return images.Less(a.(images.ImageID), b.(images.ImageID))
}

func (d *Dataset) idIndex(ctx context.Context) (*btree.BTree, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.index != nil {
		return d.index, nil
	}

	imgs, err := d.imagesUnderLock(ctx)
	if err != nil {
		return nil, err
	}

	idx := btree.NewNonConcurrent(byID)
	for _, id := range imgs.IDs() {
		idx.Set(id)
	}
	d.index = idx
	return idx, nil
}

// Find scans the image ids in id order. A nil opts returns all ids ascending.
func (d *Dataset) Find(ctx context.Context, opts *options.FindOptions) ([]images.ImageID, error) {
	if opts == nil {
		opts = options.Find()
	}

	idx, err := d.idIndex(ctx)
	if err != nil {
		return nil, err
	}

	s := &scan{opts: opts}
	if opts.O == options.Descend {
		s.descend(idx)
	} else {
		s.ascend(idx)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.found, nil
}

type scan struct {
	opts  *options.FindOptions
	found []images.ImageID
}

// pivot is the smallest id starting with the prefix.
func (s *scan) pivot() interface{} {
	if len(s.opts.Px) == 0 {
		return nil
	}
	id, err := images.NewImageID("", s.opts.Px...)
	if err != nil {
		return nil
	}
	return id
}

func (s *scan) ascend(idx *btree.BTree) {
	var start interface{}
	if s.opts.KR != nil && !s.opts.KR.Lower.IsZero() {
		start = s.opts.KR.Lower
	}
	if p := s.pivot(); p != nil && (start == nil || images.Less(start.(images.ImageID), p.(images.ImageID))) {
		start = p
	}

	inPrefix := false
	idx.Ascend(start, func(item interface{}) bool {
		id := item.(images.ImageID)
		if kr := s.opts.KR; kr != nil && !kr.Upper.IsZero() && !images.Less(id, kr.Upper) {
			return false
		}
		if !hasPrefix(id, s.opts.Px) {
			// ids sharing a prefix are contiguous
			return !inPrefix
		}
		inPrefix = true
		return s.visit(id)
	})
}

func (s *scan) descend(idx *btree.BTree) {
	idx.Descend(nil, func(item interface{}) bool {
		id := item.(images.ImageID)
		if kr := s.opts.KR; kr != nil {
			if !kr.Upper.IsZero() && !images.Less(id, kr.Upper) {
				return true
			}
			if !kr.Lower.IsZero() && images.Less(id, kr.Lower) {
				return false
			}
		}
		if !hasPrefix(id, s.opts.Px) {
			if p := s.pivot(); p != nil && images.Less(id, p.(images.ImageID)) {
				return false
			}
			return true
		}
		return s.visit(id)
	})
}

// visit records id if it passes the site filter, false stops the scan.
func (s *scan) visit(id images.ImageID) bool {
	if s.opts.St != nil && id.Site() != *s.opts.St {
		return true
	}
	s.found = append(s.found, id)
	return s.opts.Lim <= 0 || len(s.found) < s.opts.Lim
}

func hasPrefix(id images.ImageID, prefix []string) bool {
	parts := id.Parts()
	if len(prefix) > len(parts) {
		return false
	}
	for i, p := range prefix {
		if parts[i] != p {
			return false
		}
	}
	return true
}
