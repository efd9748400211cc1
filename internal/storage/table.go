package storage

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"sleepywoodpecker/motion-windows/internal/processing"
)

// WriteFeatureTable writes one space separated line per vector: the label id
// and then every feature, each in %.18e notation.
func WriteFeatureTable(w io.Writer, vectors []processing.FeatureVector) error {
	bw := bufio.NewWriter(w)
	for _, fv := range vectors {
		for i, v := range fv.Row() {
			if i > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(formatValue(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadFeatureTable parses a table written by WriteFeatureTable. Every row must
// have the same number of columns.
func ReadFeatureTable(r io.Reader) ([]processing.FeatureVector, error) {
	var (
		vectors []processing.FeatureVector
		columns int
		line    int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if columns == 0 {
			columns = len(fields)
		} else if len(fields) != columns {
			return nil, fmt.Errorf("line %d: %d columns, want %d", line, len(fields), columns)
		}

		row, err := parseRow(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		vectors = append(vectors, processing.FeatureVector{LabelID: int(row[0]), Features: row[1:]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return vectors, nil
}

// CountNaN returns the number of NaN features across all vectors.
func CountNaN(vectors []processing.FeatureVector) int {
	n := 0
	for _, fv := range vectors {
		for _, v := range fv.Features {
			if math.IsNaN(v) {
				n++
			}
		}
	}
	return n
}

func parseRow(fields []string) ([]float64, error) {
	row := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		row[i] = v
	}
	return row, nil
}

func formatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'e', 18, 64)
}
