package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// GeoKey ids
const (
	GeoKey_GTModelType      = 1024
	GeoKey_GTRasterType     = 1025
	GeoKey_GeographicType   = 2048
	GeoKey_ProjectedCSType  = 3072
	ModelTypeProjected      = 1
	ModelTypeGeographic     = 2
	RasterPixelIsArea       = 1
	EPSG_WGS84              = 4326
	EPSG_WebMercator        = 3857
	webMercatorEarthRadiusM = 6378137.0
)

var (
	// ErrNotTIFF is returned for data without a TIFF header.
	ErrNotTIFF = errors.New("not a TIFF file")
	// ErrNoGeoTags is returned when the image carries no pixel scale or tiepoint.
	ErrNoGeoTags = errors.New("missing GeoTIFF georeferencing tags")
	// ErrUnsupportedCRS is returned for coordinate systems other than
	// WGS84 and Web Mercator.
	ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")
)

// GeoInfo is the georeferencing read from the first IFD of a GeoTIFF.
type GeoInfo struct {
	Width      int
	Height     int
	PixelScale [3]float64
	Tiepoint   [6]float64
	ModelType  uint16
	EPSG       uint16
}

// LatLngBox is a geographic bounding box in degrees.
type LatLngBox struct {
	South, West, North, East float64
}

// ReadGeoInfo parses the TIFF header and first IFD of data and returns its
// georeferencing. Both byte orders are accepted.
func ReadGeoInfo(data []byte) (*GeoInfo, error) {
	if len(data) < 8 {
		return nil, ErrNotTIFF
	}
	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	if bo.Uint16(data[2:4]) != 42 {
		return nil, ErrNotTIFF
	}

	r := &ifdReader{data: data, bo: bo}
	off := int(bo.Uint32(data[4:8]))
	if off+2 > len(data) {
		return nil, fmt.Errorf("failed to read IFD: offset %d out of range", off)
	}
	n := int(bo.Uint16(data[off:]))

	info := &GeoInfo{}
	var haveScale, haveTie bool
	var keys []uint16
	for i := 0; i < n; i++ {
		p := off + 2 + 12*i
		if p+12 > len(data) {
			return nil, fmt.Errorf("failed to read IFD: entry %d truncated", i)
		}
		tag := bo.Uint16(data[p:])
		typ := bo.Uint16(data[p+2:])
		count := int(bo.Uint32(data[p+4:]))
		field := data[p+8 : p+12]

		var err error
		switch tag {
		case tagImageWidth, tagImageLength:
			var v []uint32
			if v, err = r.ints(typ, count, field); err == nil && len(v) > 0 {
				if tag == tagImageWidth {
					info.Width = int(v[0])
				} else {
					info.Height = int(v[0])
				}
			}
		case TagModelPixelScale:
			var v []float64
			if v, err = r.doubles(typ, count, field); err == nil {
				haveScale = copy(info.PixelScale[:], v) >= 2
			}
		case TagModelTiepoint:
			var v []float64
			if v, err = r.doubles(typ, count, field); err == nil {
				haveTie = copy(info.Tiepoint[:], v) == 6
			}
		case TagGeoKeyDirectory:
			var v []uint32
			if v, err = r.ints(typ, count, field); err == nil {
				keys = make([]uint16, len(v))
				for j := range v {
					keys[j] = uint16(v[j])
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tag %d: %w", tag, err)
		}
	}

	if !haveScale || !haveTie {
		return nil, ErrNoGeoTags
	}
	info.parseGeoKeys(keys)
	return info, nil
}

// parseGeoKeys reads the SHORT-valued keys of a GeoKeyDirectory.
// Layout: version, revision, minor, count, then count * (id, location, count, value).
func (g *GeoInfo) parseGeoKeys(keys []uint16) {
	if len(keys) < 4 {
		return
	}
	n := int(keys[3])
	for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
		k := keys[4+4*i : 8+4*i]
		if k[1] != 0 {
			continue // value stored in another tag
		}
		switch k[0] {
		case GeoKey_GTModelType:
			g.ModelType = k[3]
		case GeoKey_GeographicType:
			if g.EPSG == 0 {
				g.EPSG = k[3]
			}
		case GeoKey_ProjectedCSType:
			g.EPSG = k[3]
		}
	}
}

// Bounds returns the raster extent in model (CRS) units.
func (g *GeoInfo) Bounds() (minX, minY, maxX, maxY float64) {
	sx, sy := g.PixelScale[0], g.PixelScale[1]
	minX = g.Tiepoint[3] - g.Tiepoint[0]*sx
	maxY = g.Tiepoint[4] + g.Tiepoint[1]*sy
	maxX = minX + float64(g.Width)*sx
	minY = maxY - float64(g.Height)*sy
	return
}

func (g *GeoInfo) isMercator() bool {
	if g.EPSG == EPSG_WebMercator {
		return true
	}
	return g.EPSG == 0 && g.ModelType == ModelTypeProjected
}

func (g *GeoInfo) isGeographic() bool {
	if g.EPSG == EPSG_WGS84 {
		return true
	}
	return g.EPSG == 0 && g.ModelType == ModelTypeGeographic
}

// LatLngBounds returns the raster extent in degrees. Web Mercator extents are
// projected back to WGS84.
func (g *GeoInfo) LatLngBounds() (LatLngBox, error) {
	minX, minY, maxX, maxY := g.Bounds()
	switch {
	case g.isGeographic():
		return LatLngBox{South: minY, West: minX, North: maxY, East: maxX}, nil
	case g.isMercator():
		south, west := mercatorToLatLng(minX, minY)
		north, east := mercatorToLatLng(maxX, maxY)
		return LatLngBox{South: south, West: west, North: north, East: east}, nil
	}
	return LatLngBox{}, fmt.Errorf("%w: EPSG %d model type %d", ErrUnsupportedCRS, g.EPSG, g.ModelType)
}

func mercatorToLatLng(x, y float64) (lat, lng float64) {
	lng = x / webMercatorEarthRadiusM * 180 / math.Pi
	lat = (2*math.Atan(math.Exp(y/webMercatorEarthRadiusM)) - math.Pi/2) * 180 / math.Pi
	return
}

// LatLngToMercator projects a WGS84 coordinate to Web Mercator metres.
func LatLngToMercator(lat, lng float64) (x, y float64) {
	x = lng * math.Pi / 180 * webMercatorEarthRadiusM
	y = math.Log(math.Tan(math.Pi/4+lat*math.Pi/360)) * webMercatorEarthRadiusM
	return
}

// Tags builds the extra tags Encode needs to georeference a width x height
// image covering box in the given EPSG code (4326 or 3857).
func Tags(box LatLngBox, width, height int, epsg uint16) (map[uint16]interface{}, error) {
	var minX, minY, maxX, maxY float64
	var modelType, csKey uint16
	switch epsg {
	case EPSG_WGS84:
		minX, minY, maxX, maxY = box.West, box.South, box.East, box.North
		modelType, csKey = ModelTypeGeographic, GeoKey_GeographicType
	case EPSG_WebMercator:
		minX, minY = LatLngToMercator(box.South, box.West)
		maxX, maxY = LatLngToMercator(box.North, box.East)
		modelType, csKey = ModelTypeProjected, GeoKey_ProjectedCSType
	default:
		return nil, fmt.Errorf("%w: EPSG %d", ErrUnsupportedCRS, epsg)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", width, height)
	}

	return map[uint16]interface{}{
		TagModelPixelScale: []float64{(maxX - minX) / float64(width), (maxY - minY) / float64(height), 0},
		TagModelTiepoint:   []float64{0, 0, 0, minX, maxY, 0},
		TagGeoKeyDirectory: []uint16{
			1, 1, 0, 3,
			GeoKey_GTModelType, 0, 1, modelType,
			GeoKey_GTRasterType, 0, 1, RasterPixelIsArea,
			csKey, 0, 1, epsg,
		},
	}, nil
}

type ifdReader struct {
	data []byte
	bo   binary.ByteOrder
}

func typeSize(typ uint16) int {
	switch typ {
	case typeByte, typeASCII:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	case typeRational, typeDouble:
		return 8
	}
	return 0
}

// raw returns the bytes of a field value, following the offset when the
// value does not fit in the 4-byte field.
func (r *ifdReader) raw(typ uint16, count int, field []byte) ([]byte, error) {
	size := typeSize(typ)
	if size == 0 {
		return nil, fmt.Errorf("unsupported field type %d", typ)
	}
	n := size * count
	if n <= 4 {
		return field[:n], nil
	}
	off := int(r.bo.Uint32(field))
	if off < 0 || off+n > len(r.data) {
		return nil, fmt.Errorf("value at %d+%d out of range", off, n)
	}
	return r.data[off : off+n], nil
}

func (r *ifdReader) ints(typ uint16, count int, field []byte) ([]uint32, error) {
	b, err := r.raw(typ, count, field)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		switch typ {
		case typeByte:
			out[i] = uint32(b[i])
		case typeShort:
			out[i] = uint32(r.bo.Uint16(b[2*i:]))
		case typeLong:
			out[i] = r.bo.Uint32(b[4*i:])
		default:
			return nil, fmt.Errorf("field type %d is not an integer", typ)
		}
	}
	return out, nil
}

func (r *ifdReader) doubles(typ uint16, count int, field []byte) ([]float64, error) {
	if typ != typeDouble {
		return nil, fmt.Errorf("field type %d is not DOUBLE", typ)
	}
	b, err := r.raw(typ, count, field)
	if err != nil {
		return nil, err
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = math.Float64frombits(r.bo.Uint64(b[8*i:]))
	}
	return out, nil
}
