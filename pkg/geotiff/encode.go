// Package geotiff writes single-strip GeoTIFFs and reads the georeferencing
// tags back out of them. Pixel decoding is left to golang.org/x/image/tiff.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"slices"
)

// Field types
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeDouble   = 12
)

// Baseline tags
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagXResolution     = 282
	tagYResolution     = 283
	tagResolutionUnit  = 296
	tagExtraSamples    = 338
	tagSampleFormat    = 339
)

// GeoTIFF and GDAL tags
const (
	TagModelPixelScale = 33550
	TagModelTiepoint   = 33922
	TagGeoKeyDirectory = 34735
	TagGeoDoubleParams = 34736
	TagGeoASCIIParams  = 34737
	TagGDALNoData      = 42113
)

const (
	headerSize   = 8
	ifdEntrySize = 12

	photometricBlack  = 1
	photometricRGB    = 2
	sampleFormatFloat = 3
	associatedAlpha   = 1
)

var le = binary.LittleEndian

type field struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// ifd collects the entries of the single image directory.
type ifd []field

func (d *ifd) add(tag, typ uint16, count int, value []byte) {
	*d = append(*d, field{tag: tag, typ: typ, count: uint32(count), value: value})
}

func (d *ifd) shorts(tag uint16, vs ...uint16) {
	b := make([]byte, 0, 2*len(vs))
	for _, v := range vs {
		b = le.AppendUint16(b, v)
	}
	d.add(tag, typeShort, len(vs), b)
}

func (d *ifd) long(tag uint16, v uint32) {
	d.add(tag, typeLong, 1, le.AppendUint32(nil, v))
}

func (d *ifd) doubles(tag uint16, vs ...float64) {
	b := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		b = le.AppendUint64(b, math.Float64bits(v))
	}
	d.add(tag, typeDouble, len(vs), b)
}

func (d *ifd) ascii(tag uint16, s string) {
	b := append([]byte(s), 0)
	d.add(tag, typeASCII, len(b), b)
}

func (d *ifd) rational(tag uint16, num, den uint32) {
	d.add(tag, typeRational, 1, le.AppendUint32(le.AppendUint32(nil, num), den))
}

// geo appends caller supplied tags. Supported value types: []uint16 (SHORT),
// []float64 (DOUBLE) and string (ASCII).
func (d *ifd) geo(tags map[uint16]interface{}) error {
	for tag, val := range tags {
		switch v := val.(type) {
		case []uint16:
			d.shorts(tag, v...)
		case []float64:
			d.doubles(tag, v...)
		case string:
			d.ascii(tag, v)
		default:
			return fmt.Errorf("unsupported value type %T for tag %d", val, tag)
		}
	}
	return nil
}

// write lays the file out as header, directory, out-of-line values, pixels.
func (d ifd) write(w io.Writer, pixels []byte) error {
	d.long(tagStripOffsets, 0)
	d.long(tagStripByteCounts, uint32(len(pixels)))
	slices.SortFunc(d, func(a, b field) int { return int(a.tag) - int(b.tag) })

	dataStart := headerSize + 2 + ifdEntrySize*len(d) + 4
	var extra []byte
	for i := range d {
		if len(d[i].value) <= 4 {
			continue
		}
		off := uint32(dataStart + len(extra))
		extra = append(extra, d[i].value...)
		if len(extra)%2 == 1 {
			extra = append(extra, 0) // word alignment
		}
		d[i].value = le.AppendUint32(nil, off)
	}
	for i := range d {
		if d[i].tag == tagStripOffsets {
			d[i].value = le.AppendUint32(nil, uint32(dataStart+len(extra)))
		}
	}

	var buf bytes.Buffer
	buf.Grow(dataStart + len(extra) + len(pixels))
	buf.Write([]byte{'I', 'I', 42, 0})
	buf.Write(le.AppendUint32(nil, headerSize))
	buf.Write(le.AppendUint16(nil, uint16(len(d))))
	for _, f := range d {
		var entry [ifdEntrySize]byte
		le.PutUint16(entry[0:], f.tag)
		le.PutUint16(entry[2:], f.typ)
		le.PutUint32(entry[4:], f.count)
		copy(entry[8:], f.value)
		buf.Write(entry[:])
	}
	buf.Write(le.AppendUint32(nil, 0)) // no next IFD
	buf.Write(extra)
	buf.Write(pixels)

	_, err := buf.WriteTo(w)
	return err
}

func baseline(width, height int) ifd {
	var d ifd
	d.long(tagImageWidth, uint32(width))
	d.long(tagImageLength, uint32(height))
	d.shorts(tagCompression, 1)
	d.long(tagRowsPerStrip, uint32(height))
	d.rational(tagXResolution, 72, 1)
	d.rational(tagYResolution, 72, 1)
	d.shorts(tagResolutionUnit, 2)
	return d
}

// Encode writes m as an uncompressed 8-bit RGBA TIFF with associated alpha.
// tags carries the georeferencing, usually built by Tags.
func Encode(w io.Writer, m image.Image, tags map[uint16]interface{}) error {
	b := m.Bounds()
	pixels := make([]byte, 0, 4*b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := m.At(x, y).RGBA()
			pixels = append(pixels, uint8(r>>8), uint8(g>>8), uint8(bl>>8), uint8(a>>8))
		}
	}

	d := baseline(b.Dx(), b.Dy())
	d.shorts(tagBitsPerSample, 8, 8, 8, 8)
	d.shorts(tagPhotometric, photometricRGB)
	d.shorts(tagSamplesPerPixel, 4)
	d.shorts(tagExtraSamples, associatedAlpha)
	if err := d.geo(tags); err != nil {
		return err
	}
	return d.write(w, pixels)
}

// EncodeFloat32 writes rows as a single band 32-bit float TIFF. rows[0] is
// the top (northern) row and all rows must have the same length. NaN cells
// are kept and declared as the GDAL no-data value.
func EncodeFloat32(w io.Writer, rows [][]float64, tags map[uint16]interface{}) error {
	height := len(rows)
	if height == 0 || len(rows[0]) == 0 {
		return fmt.Errorf("invalid raster size %dx0", height)
	}
	width := len(rows[0])

	pixels := make([]byte, 0, 4*width*height)
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), width)
		}
		for _, v := range row {
			pixels = le.AppendUint32(pixels, math.Float32bits(float32(v)))
		}
	}

	d := baseline(width, height)
	d.shorts(tagBitsPerSample, 32)
	d.shorts(tagPhotometric, photometricBlack)
	d.shorts(tagSamplesPerPixel, 1)
	d.shorts(tagSampleFormat, sampleFormatFloat)
	d.ascii(TagGDALNoData, "nan")
	if err := d.geo(tags); err != nil {
		return err
	}
	return d.write(w, pixels)
}
