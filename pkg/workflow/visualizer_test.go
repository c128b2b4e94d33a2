package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"regoverlay/internal/models"
	"regoverlay/pkg/config"
	"regoverlay/pkg/overlay"
	"regoverlay/pkg/volumeio"
)

// writeVolume saves a gradient volume and returns its path
func writeVolume(t *testing.T, dir, name string, width, height, depth, shift int) string {
	t.Helper()
	vol := models.NewVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Set(x, y, z, float64((x+shift)%width+y+z+1))
			}
		}
	}
	path := filepath.Join(dir, name)
	if err := volumeio.Save(path, vol); err != nil {
		t.Fatalf("Failed to save %s: %v", name, err)
	}
	return path
}

func writeAffine(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "affine.txt")
	content := "1 0 0 0\n0 1 0 0\n0 0 1 0\n0 0 0 1\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write affine: %v", err)
	}
	return path
}

func testConfig(outDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Output.OutDir = outDir
	cfg.Visualization.CanvasWidth = 200
	cfg.Visualization.CanvasHeight = 120
	cfg.Visualization.FrameWidth = 40
	cfg.Visualization.FrameHeight = 40
	return cfg
}

func fileExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("Expected %s to exist: %v", path, err)
		return
	}
	if info.Size() == 0 {
		t.Errorf("Expected %s to be non-empty", path)
	}
}

// TestProcessSingle runs every output for one input triple
func TestProcessSingle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full pipeline test in short mode")
	}

	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "results")

	cfg := testConfig(out)
	cfg.Output.SaveSlices = true

	v, err := NewVisualizer(&Params{
		StaticFiles:    writeVolume(t, in, "static.nii.gz", 8, 8, 6, 0),
		MovingFiles:    writeVolume(t, in, "moving.nii.gz", 8, 8, 6, 1),
		AffineFiles:    writeAffine(t, in),
		ShowMosaic:     true,
		AnimSliceType:  "axial",
		ComputeMetrics: true,
		Config:         cfg,
	})
	if err != nil {
		t.Fatalf("NewVisualizer failed: %v", err)
	}

	if err := v.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	results := v.Results()
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	res := results[0]

	if res.MosaicPath != filepath.Join(out, "mosaic.png") {
		t.Errorf("Unexpected mosaic path %s", res.MosaicPath)
	}
	if res.AnimationPath != filepath.Join(out, "animation.gif") {
		t.Errorf("Unexpected animation path %s", res.AnimationPath)
	}

	t.Run("Mosaic", func(t *testing.T) {
		fileExists(t, res.MosaicPath)
	})

	t.Run("Animation", func(t *testing.T) {
		fileExists(t, res.AnimationPath)
		fileExists(t, filepath.Join(out, "slices", "slice_axial_005.png"))
	})

	t.Run("Metrics", func(t *testing.T) {
		if res.Metrics == nil {
			t.Fatal("Expected metrics to be computed")
		}
		if res.Metrics.RMSE <= 0 {
			t.Errorf("Expected positive RMSE for shifted volumes, got %f", res.Metrics.RMSE)
		}
	})
}

// TestProcessNoOptions verifies nothing is loaded or written without a
// requested output
func TestProcessNoOptions(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results")

	v, err := NewVisualizer(&Params{
		StaticFiles:   "missing_static.nii",
		MovingFiles:   "missing_moving.nii",
		AffineFiles:   "missing_affine.txt",
		AnimSliceType: "none",
		Config:        testConfig(out),
	})
	if err != nil {
		t.Fatalf("NewVisualizer failed: %v", err)
	}

	if err := v.Process(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if len(v.Results()) != 0 {
		t.Errorf("Expected no results, got %d", len(v.Results()))
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("Expected no output directory to be created")
	}
}

// TestProcessDimensionMismatch verifies mismatched volumes fail before any
// output is written
func TestProcessDimensionMismatch(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "results")

	v, err := NewVisualizer(&Params{
		StaticFiles:   writeVolume(t, in, "static.nii", 10, 10, 10, 0),
		MovingFiles:   writeVolume(t, in, "moving.nii", 10, 10, 5, 0),
		AffineFiles:   writeAffine(t, in),
		ShowMosaic:    true,
		AnimSliceType: "coronal",
		Config:        testConfig(out),
	})
	if err != nil {
		t.Fatalf("NewVisualizer failed: %v", err)
	}

	err = v.Process()
	if !errors.Is(err, overlay.ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("Expected no output to be written")
	}
}

// TestProcessBatch pairs globbed inputs, broadcasts the single moving image
// and affine, and keeps going after a failing pair
func TestProcessBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full pipeline test in short mode")
	}

	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "results")

	writeVolume(t, in, "static_a.nii", 6, 6, 4, 0)
	writeVolume(t, in, "static_b.nii", 6, 6, 3, 0)
	writeVolume(t, in, "static_c.nii", 6, 6, 4, 2)

	v, err := NewVisualizer(&Params{
		StaticFiles:   filepath.Join(in, "static_*.nii"),
		MovingFiles:   writeVolume(t, in, "moving.nii", 6, 6, 4, 1),
		AffineFiles:   writeAffine(t, in),
		AnimSliceType: "Saggital",
		Direct:        true,
		Config:        testConfig(out),
	})
	if err != nil {
		t.Fatalf("NewVisualizer failed: %v", err)
	}

	err = v.Process()
	if !errors.Is(err, overlay.ErrDimensionMismatch) {
		t.Errorf("Expected the static_b failure to be reported, got %v", err)
	}

	results := v.Results()
	if len(results) != 2 {
		t.Fatalf("Expected 2 successful results, got %d", len(results))
	}
	fileExists(t, filepath.Join(out, "static_a_animation.gif"))
	fileExists(t, filepath.Join(out, "static_c_animation.gif"))
	if _, err := os.Stat(filepath.Join(out, "static_b_animation.gif")); !os.IsNotExist(err) {
		t.Error("Expected no animation for the mismatched pair")
	}
	if results[0].Moving != results[1].Moving {
		t.Error("Expected the moving image to be shared by all pairs")
	}
}

// TestProcessSharedStatic registers several moving images against one
// template and checks every pair keeps its own outputs
func TestProcessSharedStatic(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full pipeline test in short mode")
	}

	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "results")

	writeVolume(t, in, "moving_a.nii", 6, 6, 4, 1)
	writeVolume(t, in, "moving_b.nii", 6, 6, 4, 3)

	v, err := NewVisualizer(&Params{
		StaticFiles:   writeVolume(t, in, "template.nii", 6, 6, 4, 0),
		MovingFiles:   filepath.Join(in, "moving_*.nii"),
		AffineFiles:   writeAffine(t, in),
		ShowMosaic:    true,
		AnimSliceType: "axial",
		Direct:        true,
		Config:        testConfig(out),
	})
	if err != nil {
		t.Fatalf("NewVisualizer failed: %v", err)
	}

	if err := v.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	results := v.Results()
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].AnimationPath == results[1].AnimationPath {
		t.Errorf("Both pairs wrote %s", results[0].AnimationPath)
	}
	if results[0].MosaicPath == results[1].MosaicPath {
		t.Errorf("Both pairs wrote %s", results[0].MosaicPath)
	}
	for _, name := range []string{
		"moving_a_animation.gif", "moving_b_animation.gif",
		"moving_a_mosaic.png", "moving_b_mosaic.png",
	} {
		fileExists(t, filepath.Join(out, name))
	}
}

// TestTriplesNames checks output names come from the inputs that vary
func TestTriplesNames(t *testing.T) {
	in := t.TempDir()
	for _, name := range []string{"s1.nii.gz", "s2.nii.gz", "m1.nii", "m2.nii", "affine.txt"} {
		if err := os.WriteFile(filepath.Join(in, name), nil, 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	v, err := NewVisualizer(&Params{
		StaticFiles: filepath.Join(in, "s*.nii.gz"),
		MovingFiles: filepath.Join(in, "m*.nii"),
		AffineFiles: filepath.Join(in, "affine.txt"),
		ShowMosaic:  true,
	})
	if err != nil {
		t.Fatalf("NewVisualizer failed: %v", err)
	}

	triples, err := v.triples()
	if err != nil {
		t.Fatalf("triples failed: %v", err)
	}
	want := []string{"s1_m1", "s2_m2"}
	if len(triples) != len(want) {
		t.Fatalf("Expected %d triples, got %d", len(want), len(triples))
	}
	for i, tr := range triples {
		if tr.Name != want[i] {
			t.Errorf("Triple %d: expected name %q, got %q", i, want[i], tr.Name)
		}
	}

	single, err := NewVisualizer(&Params{
		StaticFiles: filepath.Join(in, "s1.nii.gz"),
		MovingFiles: filepath.Join(in, "m1.nii"),
		AffineFiles: filepath.Join(in, "affine.txt"),
		ShowMosaic:  true,
	})
	if err != nil {
		t.Fatalf("NewVisualizer failed: %v", err)
	}
	triples, err = single.triples()
	if err != nil {
		t.Fatalf("triples failed: %v", err)
	}
	if len(triples) != 1 || triples[0].Name != "" {
		t.Errorf("Expected a single unnamed triple, got %+v", triples)
	}
}

func TestTriplesCountMismatch(t *testing.T) {
	in := t.TempDir()
	for _, name := range []string{"s1.nii", "s2.nii", "m1.nii", "m2.nii", "m3.nii", "a1.txt", "a2.txt"} {
		if err := os.WriteFile(filepath.Join(in, name), nil, 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	v, err := NewVisualizer(&Params{
		StaticFiles: filepath.Join(in, "s*.nii"),
		MovingFiles: filepath.Join(in, "m*.nii"),
		AffineFiles: filepath.Join(in, "a*.txt"),
		ShowMosaic:  true,
	})
	if err != nil {
		t.Fatalf("NewVisualizer failed: %v", err)
	}
	_, err = v.triples()
	if err == nil {
		t.Fatal("Expected error pairing 2 static with 3 moving images, got nil")
	}
	// The affine list is also unpairable; the static list is checked first
	if !strings.Contains(err.Error(), "2 static inputs") {
		t.Errorf("Expected the static list to be reported, got %v", err)
	}
}

func TestNewVisualizerInvalidPlane(t *testing.T) {
	_, err := NewVisualizer(&Params{AnimSliceType: "oblique"})
	if !errors.Is(err, models.ErrInvalidPlane) {
		t.Errorf("Expected ErrInvalidPlane, got %v", err)
	}
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"/data/sub-01_T1w.nii.gz": "sub-01_T1w",
		"moving.nii":              "moving",
		"raw":                     "raw",
		"affine.txt":              "affine",
	}
	for in, want := range cases {
		if got := stem(in); got != want {
			t.Errorf("stem(%q) = %q, want %q", in, got, want)
		}
	}
}
