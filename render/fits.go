package render

import (
	"os"

	"github.com/astrogo/fitsio"
)

// WriteFITS exports the raw temperature samples of m as a single-extension
// FITS file at path.  Samples are written as 32-bit floats in degrees
// Celsius, so downstream analysis tools see real temperatures rather than
// the normalized bytes in the JPEG.
func WriteFITS(path string, m Matrix, height, width int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fits, err := fitsio.Create(f)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-32, []int{width, height})
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "BUNIT", Value: "Celsius", Comment: "temperature samples"},
		fitsio.Card{Name: "DOCNAME", Value: m.Name, Comment: "source document"},
	)
	if err != nil {
		return err
	}
	samples := make([]float32, len(m.Samples))
	for i, v := range m.Samples {
		samples[i] = float32(v)
	}
	if err := im.Write(samples); err != nil {
		return err
	}
	return fits.Write(im)
}
