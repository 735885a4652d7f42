/*Package render turns stored temperature-matrix documents into viewable
images.

A document is a JSON array of temperature samples, either flat or split
into rows, written by the acquisition recorder.  The pipeline loads each
document in the working set, min-max normalizes it to 8-bit intensity,
rasterizes grayscale-as-RGB, and writes <name>.jpg beside the source.

Per-document failures only fail that document; the batch runs to the end
and the result carries the failures by name.  An empty working set is a
successful zero result, not an error.
*/
package render

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.jpl.nasa.gov/bdube/thermacq/camera"
	"github.jpl.nasa.gov/bdube/thermacq/util"
)

const (
	// DefaultHeight and DefaultWidth are the geometry of the infrared
	// detector; documents carry no geometry of their own.
	DefaultHeight = 384
	DefaultWidth  = 512

	// epsilon guards the normalization against a constant matrix,
	// where max == min would divide by zero
	epsilon = 1e-16

	// DocExt is the matrix file extension the working set is built from
	DocExt = ".json"
)

// Matrix is one loaded temperature-matrix document.
type Matrix struct {
	// Name is the document identifier, the file name without extension
	Name string

	// Samples are the temperatures in row-major order
	Samples []float64
}

// Progress is emitted once per completed document, immediately after its
// image is written.
type Progress struct {
	// Document is the name of the document just finished
	Document string

	// OutputPath is where its image was written
	OutputPath string

	// Processed counts finished documents including this one
	Processed int

	// Total is the working set size
	Total int
}

// Result is the aggregate outcome of one render invocation.
type Result struct {
	// Processed counts successfully rendered documents
	Processed int

	// LastImage is the path of the final image written, empty if none
	LastImage string

	// Failures maps document names to their per-document errors
	Failures map[string]error
}

// Pipeline holds the geometry and options one render invocation runs
// with.  The zero value is not useful; create with NewPipeline.
type Pipeline struct {
	// Height and Width are the expected document geometry
	Height int
	Width  int

	// WriteFITS also exports the raw samples next to each JPEG
	WriteFITS bool
}

// NewPipeline creates a pipeline with the detector's default geometry.
func NewPipeline() *Pipeline {
	return &Pipeline{Height: DefaultHeight, Width: DefaultWidth}
}

// WorkingSet expands path into the ordered list of documents to process.
// A document path is its own working set; a directory contributes every
// matrix document directly inside it, lexicographic by name.
func WorkingSet(path string) ([]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), DocExt) {
			continue
		}
		out = append(out, filepath.Join(path, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// LoadDocument parses one document.  Both encodings the recorder has
// written over time are accepted: a flat array of samples, or an array of
// row arrays.
func LoadDocument(path string) (Matrix, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	b, err := os.ReadFile(path)
	if err != nil {
		return Matrix{}, err
	}
	var flat []float64
	if err := json.Unmarshal(b, &flat); err == nil {
		return Matrix{Name: name, Samples: flat}, nil
	}
	var rows [][]float64
	if err := json.Unmarshal(b, &rows); err != nil {
		return Matrix{}, fmt.Errorf("%s: not a flat or row-nested numeric array: %w", name, err)
	}
	for _, r := range rows {
		flat = append(flat, r...)
	}
	return Matrix{Name: name, Samples: flat}, nil
}

// Normalize maps the samples onto [0, 255] by min-max scaling in a single
// pass.  A constant matrix comes out all zeros thanks to the epsilon
// guard.
func Normalize(samples []float64) []uint8 {
	if len(samples) == 0 {
		return nil
	}
	lo, hi := samples[0], samples[0]
	for _, v := range samples {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo + epsilon
	out := make([]uint8, len(samples))
	for i, v := range samples {
		out[i] = uint8(util.Clamp(math.Round((v-lo)/span*255), 0, 255))
	}
	return out
}

// Rasterize replicates each normalized byte into three channels to form a
// height x width RGB raster, row-major.
func Rasterize(px []uint8, height, width int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, v := range px {
		img.SetRGBA(i%width, i/width, color.RGBA{v, v, v, 255})
	}
	return img
}

// renderOne loads, checks, normalizes, rasterizes and writes a single
// document, returning the image path.
func (p *Pipeline) renderOne(path string) (string, error) {
	m, err := LoadDocument(path)
	if err != nil {
		return "", err
	}
	want := p.Height * p.Width
	if len(m.Samples) != want {
		return "", camera.Failure{
			Kind: camera.ShapeMismatch,
			Detail: fmt.Sprintf("%s has %d samples, geometry %dx%d needs %d",
				m.Name, len(m.Samples), p.Height, p.Width, want),
		}
	}
	img := Rasterize(Normalize(m.Samples), p.Height, p.Width)
	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".jpg"
	f, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 100}); err != nil {
		return "", err
	}
	if p.WriteFITS {
		fitsPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".fits"
		if err := WriteFITS(fitsPath, m, p.Height, p.Width); err != nil {
			return "", err
		}
	}
	return outPath, nil
}

// Render processes the working set of path.  progress may be nil; when it
// is not, it receives one event per completed document before Render
// moves on.  The returned error covers only working set construction;
// per-document failures are in the result.
func (p *Pipeline) Render(path string, progress func(Progress)) (Result, error) {
	docs, err := WorkingSet(path)
	if err != nil {
		return Result{}, err
	}
	res := Result{Failures: make(map[string]error)}
	if len(docs) == 0 {
		// an empty working set completes successfully; note it for the operator
		log.Println("render:", camera.Failure{Kind: camera.NoDocumentsFound, Detail: path})
		return res, nil
	}
	for _, doc := range docs {
		name := strings.TrimSuffix(filepath.Base(doc), filepath.Ext(doc))
		outPath, err := p.renderOne(doc)
		if err != nil {
			res.Failures[name] = err
			continue
		}
		res.Processed++
		res.LastImage = outPath
		if progress != nil {
			progress(Progress{
				Document:   name,
				OutputPath: outPath,
				Processed:  res.Processed,
				Total:      len(docs),
			})
		}
	}
	return res, nil
}
