// Package volumeio reads and writes the volumes and affine matrices consumed
// by the overlay pipeline.
//
// Volumes are stored as single-file NIfTI-1 images (.nii), optionally gzip
// compressed (.nii.gz).
package volumeio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"regoverlay/internal/models"
)

// ErrUnsupportedFormat is returned for files that are not NIfTI-1 images or
// use a voxel type this package cannot decode.
var ErrUnsupportedFormat = errors.New("unsupported volume format")

const (
	headerSize    = 348
	defaultOffset = 352
)

// NIfTI-1 datatype codes
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

// header mirrors the 348 byte NIfTI-1 header
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Load reads a NIfTI-1 volume. Only the first 3D frame of images with more
// than three dimensions is loaded; Dims still reports the full shape.
func Load(path string) (*models.Volume, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}

	vol, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, nil
}

func readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", path, err)
	}

	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %v", path, err)
		}
		defer zr.Close()

		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %v", path, err)
		}
	}
	return raw, nil
}

func byteOrder(raw []byte) (binary.ByteOrder, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: file shorter than a NIfTI-1 header", ErrUnsupportedFormat)
	}
	switch {
	case binary.LittleEndian.Uint32(raw) == headerSize:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(raw) == headerSize:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("%w: bad header size", ErrUnsupportedFormat)
	}
}

func decode(raw []byte) (*models.Volume, error) {
	order, err := byteOrder(raw)
	if err != nil {
		return nil, err
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, &hdr); err != nil {
		return nil, fmt.Errorf("failed to parse header: %v", err)
	}
	if string(hdr.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("%w: magic %q (only single-file NIfTI-1 is supported)", ErrUnsupportedFormat, hdr.Magic[:3])
	}

	ndim := int(hdr.Dim[0])
	if ndim < 1 || ndim > 7 {
		return nil, fmt.Errorf("%w: invalid number of dimensions %d", ErrUnsupportedFormat, ndim)
	}
	dims := make([]int, ndim)
	for i := range dims {
		dims[i] = int(hdr.Dim[i+1])
		if dims[i] < 1 {
			return nil, fmt.Errorf("%w: invalid dimension %d along axis %d", ErrUnsupportedFormat, dims[i], i)
		}
	}

	shape := [3]int{1, 1, 1}
	for i := 0; i < 3 && i < ndim; i++ {
		shape[i] = dims[i]
	}

	offset := int(hdr.VoxOffset)
	if offset < headerSize {
		offset = defaultOffset
	}
	n := shape[0] * shape[1] * shape[2]

	data, err := decodeVoxels(raw, offset, n, hdr.Datatype, order)
	if err != nil {
		return nil, err
	}

	if slope := float64(hdr.SclSlope); slope != 0 && !(slope == 1 && hdr.SclInter == 0) {
		inter := float64(hdr.SclInter)
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	return &models.Volume{
		Data:   data,
		Width:  shape[0],
		Height: shape[1],
		Depth:  shape[2],
		Dims:   dims,
		Affine: headerAffine(&hdr),
	}, nil
}

func decodeVoxels(raw []byte, offset, n int, datatype int16, order binary.ByteOrder) ([]float64, error) {
	var size int
	switch datatype {
	case dtUint8, dtInt8:
		size = 1
	case dtInt16, dtUint16:
		size = 2
	case dtInt32, dtUint32, dtFloat32:
		size = 4
	case dtFloat64:
		size = 8
	default:
		return nil, fmt.Errorf("%w: datatype %d", ErrUnsupportedFormat, datatype)
	}

	if offset+n*size > len(raw) {
		return nil, fmt.Errorf("truncated voxel data: need %d bytes, have %d", n*size, len(raw)-offset)
	}

	data := make([]float64, n)
	buf := raw[offset:]
	for i := range data {
		b := buf[i*size:]
		switch datatype {
		case dtUint8:
			data[i] = float64(b[0])
		case dtInt8:
			data[i] = float64(int8(b[0]))
		case dtInt16:
			data[i] = float64(int16(order.Uint16(b)))
		case dtUint16:
			data[i] = float64(order.Uint16(b))
		case dtInt32:
			data[i] = float64(int32(order.Uint32(b)))
		case dtUint32:
			data[i] = float64(order.Uint32(b))
		case dtFloat32:
			data[i] = float64(math.Float32frombits(order.Uint32(b)))
		case dtFloat64:
			data[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return data, nil
}

// headerAffine prefers the sform, then the qform, then a scaling built from
// the voxel sizes.
func headerAffine(hdr *header) *mat.Dense {
	if hdr.SformCode > 0 {
		a := mat.NewDense(4, 4, nil)
		for j := 0; j < 4; j++ {
			a.Set(0, j, float64(hdr.SrowX[j]))
			a.Set(1, j, float64(hdr.SrowY[j]))
			a.Set(2, j, float64(hdr.SrowZ[j]))
		}
		a.Set(3, 3, 1)
		return a
	}

	dx, dy, dz := pixdim(hdr, 1), pixdim(hdr, 2), pixdim(hdr, 3)
	if hdr.QformCode > 0 {
		return quaternionAffine(hdr, dx, dy, dz)
	}

	return mat.NewDense(4, 4, []float64{
		dx, 0, 0, 0,
		0, dy, 0, 0,
		0, 0, dz, 0,
		0, 0, 0, 1,
	})
}

func pixdim(hdr *header, i int) float64 {
	if v := float64(hdr.Pixdim[i]); v > 0 {
		return v
	}
	return 1
}

func quaternionAffine(hdr *header, dx, dy, dz float64) *mat.Dense {
	b, c, d := float64(hdr.QuaternB), float64(hdr.QuaternC), float64(hdr.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// b, c, d describe a 180 degree rotation; renormalise them
		s := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*s, c*s, d*s
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	qfac := 1.0
	if hdr.Pixdim[0] < 0 {
		qfac = -1
	}
	dz *= qfac

	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(hdr.QoffsetX),
		2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(hdr.QoffsetY),
		2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(hdr.QoffsetZ),
		0, 0, 0, 1,
	})
}

// Save writes vol as a little-endian float32 NIfTI-1 image. Paths ending in
// ".gz" are gzip compressed.
func Save(path string, vol *models.Volume) error {
	var hdr header
	hdr.SizeofHdr = headerSize
	hdr.Regular = 'r'
	hdr.Dim = [8]int16{3, int16(vol.Width), int16(vol.Height), int16(vol.Depth), 1, 1, 1, 1}
	hdr.Datatype = dtFloat32
	hdr.Bitpix = 32
	hdr.VoxOffset = defaultOffset
	hdr.SclSlope = 1
	copy(hdr.Magic[:], "n+1\x00")

	affine := vol.Affine
	if affine == nil {
		affine = models.IdentityAffine()
	}
	hdr.SformCode = 1
	for j := 0; j < 4; j++ {
		hdr.SrowX[j] = float32(affine.At(0, j))
		hdr.SrowY[j] = float32(affine.At(1, j))
		hdr.SrowZ[j] = float32(affine.At(2, j))
	}
	hdr.Pixdim[0] = 1
	for i, s := range voxelSizes(affine) {
		hdr.Pixdim[i+1] = float32(s)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to encode header: %v", err)
	}
	// Empty extension block between header and voxel data
	buf.Write([]byte{0, 0, 0, 0})
	voxels := make([]float32, len(vol.Data))
	for i, v := range vol.Data {
		voxels[i] = float32(v)
	}
	if err := binary.Write(&buf, binary.LittleEndian, voxels); err != nil {
		return fmt.Errorf("failed to encode voxels: %v", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	var w io.Writer = file
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(file)
		w = zw
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %v", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			file.Close()
			return fmt.Errorf("failed to finish gzip stream %s: %v", path, err)
		}
	}
	return file.Close()
}

func voxelSizes(affine *mat.Dense) [3]float64 {
	var s [3]float64
	for k := 0; k < 3; k++ {
		s[k] = floats.Norm(mat.Col(nil, k, affine)[:3], 2)
	}
	return s
}
