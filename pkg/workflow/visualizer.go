// Package workflow drives the overlay visualisation for one or more
// (static, moving, affine) input triples.
package workflow

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"regoverlay/internal/models"
	"regoverlay/pkg/animation"
	"regoverlay/pkg/config"
	"regoverlay/pkg/metrics"
	"regoverlay/pkg/mosaic"
	"regoverlay/pkg/overlay"
	"regoverlay/pkg/visualization"
	"regoverlay/pkg/volumeio"
)

// Params holds the inputs and requested outputs of a visualisation run.
type Params struct {
	// StaticFiles, MovingFiles and AffineFiles are paths or glob patterns.
	// Matches are sorted and paired in order; a pattern matching a single
	// file is reused for every pair.
	StaticFiles string
	MovingFiles string
	AffineFiles string

	// ShowMosaic saves a mosaic of all axial slices
	ShowMosaic bool

	// AnimSliceType selects the animation plane: saggital, coronal, axial,
	// or none/empty to skip the animation
	AnimSliceType string

	// Direct writes the unrendered animation instead of the rendered one
	Direct bool

	// ComputeMetrics computes similarity metrics for each pair
	ComputeMetrics bool

	// Config carries the visualisation constants and output locations.
	// DefaultConfig is used when nil.
	Config *config.Config
}

// Triple is one set of inputs
type Triple struct {
	Static string
	Moving string
	Affine string

	// Name prefixes the output files in batch runs. It is built from the
	// stems of the inputs that differ between triples.
	Name string
}

// Result describes what was produced for one triple
type Result struct {
	Triple

	MosaicPath    string
	AnimationPath string
	SlicesDir     string
	Metrics       *metrics.Metrics
}

// Visualizer runs the overlay pipeline
type Visualizer struct {
	params  *Params
	cfg     *config.Config
	plane   models.Plane
	animate bool

	mosaic    *mosaic.Composer
	animation *animation.Composer

	results []Result
}

// NewVisualizer validates the parameters and creates a visualizer
func NewVisualizer(params *Params) (*Visualizer, error) {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v := &Visualizer{
		params:    params,
		cfg:       cfg,
		mosaic:    mosaic.NewComposer(cfg),
		animation: animation.NewComposer(cfg),
	}

	sel := strings.ToLower(strings.TrimSpace(params.AnimSliceType))
	if sel != "" && sel != "none" {
		plane, err := models.ParsePlane(sel)
		if err != nil {
			return nil, err
		}
		v.plane = plane
		v.animate = true
	}

	return v, nil
}

// Results returns the outputs of the last Process call
func (v *Visualizer) Results() []Result {
	return v.results
}

// Process runs every input triple. A failing triple is logged and skipped;
// all failures are returned together.
func (v *Visualizer) Process() error {
	v.results = nil

	if !v.params.ShowMosaic && !v.animate && !v.params.ComputeMetrics {
		log.Println("No options supplied. Exiting.")
		return nil
	}

	triples, err := v.triples()
	if err != nil {
		return err
	}

	var errs []error
	for i, t := range triples {
		label := t.Moving
		if t.Name != "" {
			label = t.Name
		}
		fmt.Printf("Processing input %d/%d: %s\n", i+1, len(triples), label)
		res, err := v.processTriple(t)
		if err != nil {
			log.Printf("Warning: failed to process %s: %v", label, err)
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			continue
		}
		v.results = append(v.results, res)
	}

	return errors.Join(errs...)
}

func (v *Visualizer) processTriple(t Triple) (Result, error) {
	res := Result{Triple: t}

	// Step 1: load the images and the affine
	if v.cfg.Output.Verbose {
		fmt.Println("Step 1: Loading input images...")
	}
	static, err := volumeio.Load(t.Static)
	if err != nil {
		return res, fmt.Errorf("failed to load static image: %w", err)
	}
	moving, err := volumeio.Load(t.Moving)
	if err != nil {
		return res, fmt.Errorf("failed to load moving image: %w", err)
	}
	affine, err := volumeio.LoadAffineMatrix(t.Affine)
	if err != nil {
		return res, fmt.Errorf("failed to load affine matrix: %w", err)
	}

	// Step 2: sanity check the dimensions
	if err := overlay.CheckDimensions(static, moving); err != nil {
		return res, err
	}
	if v.cfg.Output.Verbose {
		fmt.Printf("Loaded volumes with shape %v\n", static.Shape())
	}

	prefix := ""
	if t.Name != "" {
		prefix = t.Name + "_"
	}
	outDir := v.cfg.Output.OutDir

	// Step 3: mosaic of the axial slices
	if v.params.ShowMosaic {
		path := filepath.Join(outDir, prefix+v.cfg.Output.MosaicFile)
		fmt.Println("Creating mosaic...")
		if err := v.mosaic.Compose(static, moving, affine, path, models.Axial); err != nil {
			return res, fmt.Errorf("failed to create mosaic: %w", err)
		}
		fmt.Printf("Mosaic saved to: %s\n", path)
		res.MosaicPath = path
	}

	// Step 4: animation along the selected plane
	if v.animate {
		path := filepath.Join(outDir, prefix+v.cfg.Output.AnimateFile)
		fmt.Printf("Creating %v animation...\n", v.plane)
		if err := v.writeAnimation(static, moving, affine, path); err != nil {
			return res, fmt.Errorf("failed to create animation: %w", err)
		}
		fmt.Printf("Animation saved to: %s\n", path)
		res.AnimationPath = path

		if v.cfg.Output.SaveSlices {
			dir := filepath.Join(outDir, prefix+v.cfg.Output.SlicesDir)
			if err := v.saveSlices(static, moving, dir); err != nil {
				log.Printf("Warning: failed to save slices: %v", err)
			} else {
				res.SlicesDir = dir
			}
		}
	}

	// Step 5: similarity metrics
	if v.params.ComputeMetrics {
		m, err := metrics.Compute(static, moving)
		if err != nil {
			return res, fmt.Errorf("failed to compute metrics: %w", err)
		}
		res.Metrics = &m
	}

	return res, nil
}

func (v *Visualizer) writeAnimation(static, moving *models.Volume, affine *mat.Dense, path string) error {
	if v.params.Direct {
		return v.animation.Direct(static, moving, v.plane, path)
	}
	return v.animation.Rendered(static, moving, v.plane, affine, path)
}

func (v *Visualizer) saveSlices(static, moving *models.Volume, dir string) error {
	o, _, err := v.animation.Normalizer.Build(static, moving, overlay.ModeAnimation)
	if err != nil {
		return err
	}
	return visualization.NewViewer(o).SaveSliceSequence(v.plane, dir)
}

// triples expands the input patterns and pairs them up
func (v *Visualizer) triples() ([]Triple, error) {
	statics, err := expand(v.params.StaticFiles)
	if err != nil {
		return nil, fmt.Errorf("static images: %w", err)
	}
	movings, err := expand(v.params.MovingFiles)
	if err != nil {
		return nil, fmt.Errorf("moving images: %w", err)
	}
	affines, err := expand(v.params.AffineFiles)
	if err != nil {
		return nil, fmt.Errorf("affine matrices: %w", err)
	}

	inputs := []struct {
		name string
		list []string
	}{
		{"static", statics},
		{"moving", movings},
		{"affine", affines},
	}

	n := max(len(statics), len(movings), len(affines))
	for _, in := range inputs {
		if len(in.list) != 1 && len(in.list) != n {
			return nil, fmt.Errorf("%d %s inputs cannot be paired with %d inputs", len(in.list), in.name, n)
		}
	}

	pick := func(list []string, i int) string {
		if len(list) == 1 {
			return list[0]
		}
		return list[i]
	}

	triples := make([]Triple, n)
	for i := range triples {
		triples[i] = Triple{
			Static: pick(statics, i),
			Moving: pick(movings, i),
			Affine: pick(affines, i),
		}

		// Only inputs that vary between triples name the outputs
		var parts []string
		for _, in := range inputs {
			if len(in.list) > 1 {
				parts = append(parts, stem(in.list[i]))
			}
		}
		triples[i].Name = strings.Join(parts, "_")
	}
	return triples, nil
}

// expand resolves a glob pattern. A pattern without matches is returned as
// is so the missing file is reported when it is opened.
func expand(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("no input given")
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []string{pattern}, nil
	}
	sort.Strings(matches)
	return matches, nil
}

// stem strips the directory and file extensions from path
func stem(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".gz")
	return strings.TrimSuffix(base, filepath.Ext(base))
}
