package exifnorm

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"
)

var le = binary.LittleEndian

type ifdEntry struct {
	id    uint16
	typ   uint16
	count uint32
	data  []byte
}

func asciiTag(id uint16, s string) ifdEntry {
	return ifdEntry{id: id, typ: 2, count: uint32(len(s) + 1), data: append([]byte(s), 0)}
}

func shortTag(id uint16, v uint16) ifdEntry {
	b := make([]byte, 2)
	le.PutUint16(b, v)
	return ifdEntry{id: id, typ: 3, count: 1, data: b}
}

func longTag(id uint16, v uint32) ifdEntry {
	b := make([]byte, 4)
	le.PutUint32(b, v)
	return ifdEntry{id: id, typ: 4, count: 1, data: b}
}

func rationalTag(id uint16, pairs ...uint32) ifdEntry {
	b := make([]byte, 4*len(pairs))
	for i, v := range pairs {
		le.PutUint32(b[4*i:], v)
	}
	return ifdEntry{id: id, typ: 5, count: uint32(len(pairs) / 2), data: b}
}

func undefinedTag(id uint16, b []byte) ifdEntry {
	return ifdEntry{id: id, typ: 7, count: uint32(len(b)), data: b}
}

// encodeIFD lays out one directory at offset start followed by its
// out-of-line values.
func encodeIFD(entries []ifdEntry, start uint32) []byte {
	dirLen := uint32(2 + 12*len(entries) + 4)
	var dir, data bytes.Buffer

	_ = binary.Write(&dir, le, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&dir, le, e.id)
		_ = binary.Write(&dir, le, e.typ)
		_ = binary.Write(&dir, le, e.count)
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			dir.Write(v)
			continue
		}
		_ = binary.Write(&dir, le, start+dirLen+uint32(data.Len()))
		data.Write(e.data)
		if data.Len()%2 == 1 {
			data.WriteByte(0)
		}
	}
	_ = binary.Write(&dir, le, uint32(0))

	return append(dir.Bytes(), data.Bytes()...)
}

// buildTIFF returns a little-endian TIFF block. A non-nil gps slice adds a
// GPS sub-IFD and the IFD0 pointer to it.
func buildTIFF(ifd0 []ifdEntry, gps []ifdEntry) []byte {
	header := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	entries := append([]ifdEntry(nil), ifd0...)

	if gps == nil {
		return append(header, encodeIFD(entries, 8)...)
	}

	entries = append(entries, longTag(0x8825, 0))
	first := encodeIFD(entries, 8)
	gpsOffset := uint32(8 + len(first))
	entries[len(entries)-1] = longTag(0x8825, gpsOffset)
	first = encodeIFD(entries, 8)

	out := append(header, first...)
	return append(out, encodeIFD(gps, gpsOffset)...)
}

func plainJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// withAPP1 inserts an EXIF APP1 segment right after the JPEG SOI marker.
func withAPP1(t *testing.T, jpg, tiffBlock []byte) []byte {
	t.Helper()
	require.True(t, len(jpg) > 2 && jpg[0] == 0xFF && jpg[1] == 0xD8)

	payload := append([]byte("Exif\x00\x00"), tiffBlock...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))

	out := append([]byte{0xFF, 0xD8}, seg...)
	out = append(out, payload...)
	return append(out, jpg[2:]...)
}

// buildTIFFWithExif returns a little-endian TIFF block whose IFD0 points to
// an Exif sub-IFD holding exifIFD.
func buildTIFFWithExif(ifd0, exifIFD []ifdEntry) []byte {
	header := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	entries := append(append([]ifdEntry(nil), ifd0...), longTag(0x8769, 0))

	first := encodeIFD(entries, 8)
	subOffset := uint32(8 + len(first))
	entries[len(entries)-1] = longTag(0x8769, subOffset)
	first = encodeIFD(entries, 8)

	out := append(header, first...)
	return append(out, encodeIFD(exifIFD, subOffset)...)
}
