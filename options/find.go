// Package options holds the fluent option builders of dataset scans.
package options

import "github.com/denismitr/pado/images"

// IDRange selects ids with Lower <= id < Upper. A zero bound is open.
type IDRange struct {
	Lower, Upper images.ImageID
}

type Order string

const (
	Ascend  Order = "ASC"
	Descend Order = "DESC"
)

type FindOptions struct {
	O   Order
	Px  []string
	St  *string
	KR  *IDRange
	Lim int
}

func (fo *FindOptions) SetOrder(o Order) *FindOptions {
	fo.O = o
	return fo
}

// Prefix selects ids whose leading parts equal parts.
func (fo *FindOptions) Prefix(parts ...string) *FindOptions {
	fo.Px = append([]string(nil), parts...)
	return fo
}

func (fo *FindOptions) Site(site string) *FindOptions {
	fo.St = &site
	return fo
}

func (fo *FindOptions) Range(lower, upper images.ImageID) *FindOptions {
	fo.KR = &IDRange{Lower: lower, Upper: upper}
	return fo
}

// Limit caps the number of results, 0 means no limit.
func (fo *FindOptions) Limit(n int) *FindOptions {
	fo.Lim = n
	return fo
}

func Find() *FindOptions {
	return &FindOptions{O: Ascend}
}
