package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/tiff"

	"lesnet-viewer/pkg/geotiff"
)

// Raster is a decoded layer image ready to be drawn over a map.
type Raster struct {
	Width  int
	Height int
	Bounds geotiff.LatLngBox
	PNG    []byte
}

// DecodeRaster decodes a GeoTIFF, positions it by its embedded
// georeferencing and re-encodes the pixels as PNG for the map view.
func DecodeRaster(data []byte) (*Raster, error) {
	info, err := geotiff.ReadGeoInfo(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read georeferencing: %w", err)
	}
	box, err := info.LatLngBounds()
	if err != nil {
		return nil, fmt.Errorf("failed to position raster: %w", err)
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode raster: %w", err)
	}

	return encodeRaster(img, box)
}

func encodeRaster(img image.Image, box geotiff.LatLngBox) (*Raster, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}
	b := img.Bounds()
	return &Raster{
		Width:  b.Dx(),
		Height: b.Dy(),
		Bounds: box,
		PNG:    buf.Bytes(),
	}, nil
}
