package volumeio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"regoverlay/internal/models"
)

// TestSaveLoadCompressed writes a gzip compressed image and reads it back
func TestSaveLoadCompressed(t *testing.T) {
	vol := models.NewVolume(4, 3, 2)
	for i := range vol.Data {
		vol.Data[i] = float64(i) * 1.5
	}
	vol.Affine = mat.NewDense(4, 4, []float64{
		2, 0, 0, -10,
		0, 2, 0, -20,
		0, 0, 3, 5,
		0, 0, 0, 1,
	})

	path := filepath.Join(t.TempDir(), "static.nii.gz")
	if err := Save(path, vol); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if raw[0] != 0x1f || raw[1] != 0x8b {
		t.Error("Expected a gzip stream for a .gz path")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Shape() != [3]int{4, 3, 2} {
		t.Errorf("Unexpected shape %v", loaded.Shape())
	}
	if loaded.At(3, 2, 1) != vol.At(3, 2, 1) {
		t.Errorf("Expected voxel %f, got %f", vol.At(3, 2, 1), loaded.At(3, 2, 1))
	}
	if !mat.Equal(loaded.Affine, vol.Affine) {
		t.Errorf("Affine mismatch:\n%v", mat.Formatted(loaded.Affine))
	}
}

// buildHeader returns a minimal big-endian int16 image with a scale factor
func buildHeader(t *testing.T, dims []int16, values []int16) []byte {
	var hdr header
	hdr.SizeofHdr = headerSize
	hdr.Dim[0] = int16(len(dims))
	copy(hdr.Dim[1:], dims)
	hdr.Datatype = dtInt16
	hdr.Bitpix = 16
	hdr.VoxOffset = defaultOffset
	hdr.SclSlope = 2
	hdr.SclInter = 1
	hdr.Pixdim = [8]float32{1, 0.5, 0.5, 2}
	copy(hdr.Magic[:], "n+1\x00")

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &hdr); err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}
	buf.Write(make([]byte, 4))
	if err := binary.Write(&buf, binary.BigEndian, values); err != nil {
		t.Fatalf("Failed to encode voxels: %v", err)
	}
	return buf.Bytes()
}

// TestLoadBigEndianScaled covers byte order detection, integer voxels,
// intensity scaling and the pixdim fallback affine
func TestLoadBigEndianScaled(t *testing.T) {
	values := []int16{-3, 0, 4, 10, 7, 1, 2, 5}
	raw := buildHeader(t, []int16{2, 2, 2}, values)

	path := filepath.Join(t.TempDir(), "moving.nii")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	vol, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if vol.Data[0] != -5 || vol.Data[3] != 21 {
		t.Errorf("Expected scaled values -5 and 21, got %f and %f", vol.Data[0], vol.Data[3])
	}
	if vol.Affine.At(0, 0) != 0.5 || vol.Affine.At(2, 2) != 2 {
		t.Errorf("Expected pixdim affine, got\n%v", mat.Formatted(vol.Affine))
	}
}

// TestLoadFourDimensional verifies only the first frame is loaded while the
// full shape is reported
func TestLoadFourDimensional(t *testing.T) {
	values := make([]int16, 2*2*1*3)
	for i := range values {
		values[i] = int16(i)
	}
	raw := buildHeader(t, []int16{2, 2, 1, 3}, values)

	path := filepath.Join(t.TempDir(), "dwi.nii")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	vol, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if vol.NumDims() != 4 {
		t.Errorf("Expected 4 dimensions, got %d", vol.NumDims())
	}
	if len(vol.Data) != 4 {
		t.Errorf("Expected the first 2x2x1 frame, got %d voxels", len(vol.Data))
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nii")
	if err := os.WriteFile(path, bytes.Repeat([]byte{7}, 400), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.nii")); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

// TestLoadAffineMatrix verifies 4x4 and 3x4 text matrices
func TestLoadAffineMatrix(t *testing.T) {
	dir := t.TempDir()

	full := filepath.Join(dir, "affine.txt")
	content := "# rigid transform\n1 0 0 4.5\n0 1 0 -2\n0 0 1 0\n0 0 0 1\n"
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write affine: %v", err)
	}
	a, err := LoadAffineMatrix(full)
	if err != nil {
		t.Fatalf("LoadAffineMatrix failed: %v", err)
	}
	if a.At(0, 3) != 4.5 || a.At(1, 3) != -2 {
		t.Errorf("Unexpected translation in\n%v", mat.Formatted(a))
	}

	short := filepath.Join(dir, "affine34.txt")
	if err := os.WriteFile(short, []byte("2 0 0 0\n0 2 0 0\n0 0 2 0\n"), 0644); err != nil {
		t.Fatalf("Failed to write affine: %v", err)
	}
	b, err := LoadAffineMatrix(short)
	if err != nil {
		t.Fatalf("LoadAffineMatrix failed: %v", err)
	}
	if b.At(3, 3) != 1 {
		t.Errorf("Expected completed bottom row, got\n%v", mat.Formatted(b))
	}

	bad := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(bad, []byte("1 0 0\n0 1 0\n"), 0644); err != nil {
		t.Fatalf("Failed to write affine: %v", err)
	}
	if _, err := LoadAffineMatrix(bad); err == nil {
		t.Error("Expected error for malformed matrix, got nil")
	}

	nan := filepath.Join(dir, "nan.txt")
	if err := os.WriteFile(nan, []byte("1 0 0 x\n0 1 0 0\n0 0 1 0\n0 0 0 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write affine: %v", err)
	}
	if _, err := LoadAffineMatrix(nan); err == nil {
		t.Error("Expected error for non-numeric entry, got nil")
	}
}
