package volumeio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// LoadAffineMatrix reads a whitespace separated affine matrix from a text
// file. Lines starting with '#' are ignored. A 3x4 matrix is completed with
// the row [0 0 0 1].
func LoadAffineMatrix(path string) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows [][]float64
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		row := make([]float64, len(fields))
		for i, f := range fields {
			row[i], err = strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid number %q", path, lineNo, f)
			}
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read affine file %s: %v", path, err)
	}

	if len(rows) == 3 {
		rows = append(rows, []float64{0, 0, 0, 1})
	}
	if len(rows) != 4 {
		return nil, fmt.Errorf("%s: expected a 4x4 affine matrix, found %d rows", path, len(rows))
	}

	data := make([]float64, 0, 16)
	for i, row := range rows {
		if len(row) != 4 {
			return nil, fmt.Errorf("%s: row %d has %d columns, expected 4", path, i+1, len(row))
		}
		data = append(data, row...)
	}

	return mat.NewDense(4, 4, data), nil
}
