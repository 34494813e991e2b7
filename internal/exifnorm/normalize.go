// Package exifnorm decodes embedded EXIF into a JSON-safe exiftree.Tree.
package exifnorm

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/tendant/simple-image-forensics/pkg/exiftree"
)

// GPSKey holds the nested GPS sub-IFD.
const GPSKey = "GPSInfo"

// Sub-IFD pointer tags.
const (
	exifPointerID    uint16 = 0x8769
	gpsPointerID     uint16 = 0x8825
	interopPointerID uint16 = 0xA005
)

// ifdGroup identifies the name table a directory is decoded with.
type ifdGroup int

const (
	groupMain ifdGroup = iota // IFD0 and the Exif sub-IFD
	groupGPS
	groupInterop
)

type tagKey struct {
	group ifdGroup
	id    uint16
}

// Normalize extracts EXIF from b. It never fails: a container without EXIF,
// an unsupported container and a corrupt EXIF block all yield Absent.
// Non-critical decode errors keep whatever tags were read.
func Normalize(b []byte) (tree exiftree.Tree) {
	defer func() {
		if r := recover(); r != nil {
			tree = exiftree.Absent()
		}
	}()

	raw, ok := Collect(b)
	if !ok {
		return exiftree.Absent()
	}
	return exiftree.Present(Sanitize(raw))
}

// Collect decodes b into raw tag values keyed by tag name. ok is false when
// no usable EXIF was found.
func Collect(b []byte) (map[string]any, bool) {
	if len(b) == 0 {
		return nil, false
	}

	x, err := exif.Decode(bytes.NewReader(b))
	if x == nil {
		return nil, false
	}
	if err != nil && exif.IsCriticalError(err) {
		return nil, false
	}

	c := &collector{
		out:  map[string]any{},
		gps:  map[string]any{},
		seen: map[tagKey]bool{},
	}
	if err := x.Walk(c); err != nil {
		return nil, false
	}

	// goexif drops tags missing from its name table, so the raw directories
	// are scanned again and those tags are keyed by their decimal id.
	c.collectUnknown(x)

	if len(c.gps) > 0 {
		c.out[GPSKey] = c.gps
	}
	return c.out, true
}

type collector struct {
	out  map[string]any
	gps  map[string]any
	seen map[tagKey]bool
}

func (c *collector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if tag == nil {
		return nil
	}
	key := string(name)
	switch {
	case name == exif.InteroperabilityIndex:
		c.seen[tagKey{groupInterop, tag.Id}] = true
	case strings.HasPrefix(key, "GPS") && name != exif.GPSInfoIFDPointer:
		c.seen[tagKey{groupGPS, tag.Id}] = true
	default:
		c.seen[tagKey{groupMain, tag.Id}] = true
	}

	if name == exif.GPSInfoIFDPointer {
		return nil
	}
	if strings.HasPrefix(key, "GPS") {
		c.gps[key] = tagValue(tag)
		return nil
	}
	c.out[key] = tagValue(tag)
	return nil
}

func (c *collector) collectUnknown(x *exif.Exif) {
	if x.Tiff == nil || len(x.Tiff.Dirs) == 0 || x.Tiff.Dirs[0] == nil {
		return
	}

	ifd0 := x.Tiff.Dirs[0]
	c.addUnknown(ifd0, groupMain, c.out)

	if sub := subDir(x, ifd0, exifPointerID); sub != nil {
		c.addUnknown(sub, groupMain, c.out)
		if interop := subDir(x, sub, interopPointerID); interop != nil {
			c.addUnknown(interop, groupInterop, c.out)
		}
	}
	if gps := subDir(x, ifd0, gpsPointerID); gps != nil {
		c.addUnknown(gps, groupGPS, c.gps)
	}
}

func (c *collector) addUnknown(d *tiff.Dir, group ifdGroup, dst map[string]any) {
	for _, tag := range d.Tags {
		if tag == nil {
			continue
		}
		k := tagKey{group, tag.Id}
		if c.seen[k] {
			continue
		}
		c.seen[k] = true
		dst[strconv.Itoa(int(tag.Id))] = tagValue(tag)
	}
}

// subDir decodes the directory that the pointer tag id in parent refers to.
// Offsets are relative to the start of the TIFF block.
func subDir(x *exif.Exif, parent *tiff.Dir, id uint16) *tiff.Dir {
	for _, tag := range parent.Tags {
		if tag == nil || tag.Id != id {
			continue
		}
		off, err := tag.Int64(0)
		if err != nil || off <= 0 || off >= int64(len(x.Raw)) {
			return nil
		}
		r := bytes.NewReader(x.Raw)
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			return nil
		}
		d, _, err := tiff.DecodeDir(r, x.Tiff.Order)
		if err != nil {
			return nil
		}
		return d
	}
	return nil
}

// tagValue converts a tag into its raw Go form. Counts above one become
// slices.
func tagValue(tag *tiff.Tag) any {
	n := int(tag.Count)

	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil {
			return nil
		}
		return s
	case tiff.IntVal:
		vals := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, err := tag.Int64(i)
			if err != nil {
				break
			}
			vals = append(vals, v)
		}
		return collapse(vals)
	case tiff.RatVal:
		vals := make([]any, 0, n)
		for i := 0; i < n; i++ {
			num, den, err := tag.Rat2(i)
			if err != nil {
				break
			}
			vals = append(vals, Rational{Num: num, Den: den})
		}
		return collapse(vals)
	case tiff.FloatVal:
		vals := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, err := tag.Float(i)
			if err != nil {
				break
			}
			vals = append(vals, v)
		}
		return collapse(vals)
	}

	return append([]byte(nil), tag.Val...)
}

func collapse(vals []any) any {
	if len(vals) == 1 {
		return vals[0]
	}
	return vals
}
