package align

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MillimetersToMeters is the input scale for instrument files recorded in mm
// that are aligned onto a scan expressed in meters.
const MillimetersToMeters = 0.001

// ParseElectrodes reads whitespace-delimited "label x y z" records.
// Coordinates are multiplied by scale. Blank lines are ignored; any other line
// that does not parse aborts loading with a *MalformedRecordError.
func ParseElectrodes(r io.Reader, scale float64) (*LabeledPointSet, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("invalid coordinate scale %v", scale)
	}

	var electrodes []Electrode
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, &MalformedRecordError{
				Line:    lineNo,
				Content: raw,
				Reason:  fmt.Sprintf("expected 4 fields, got %d", len(fields)),
			}
		}

		var coords [3]float64
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &MalformedRecordError{
					Line:    lineNo,
					Content: raw,
					Reason:  fmt.Sprintf("invalid coordinate %q", f),
				}
			}
			coords[i] = v * scale
		}

		label := fields[0]
		if first, dup := seen[label]; dup {
			return nil, &MalformedRecordError{
				Line:    lineNo,
				Content: raw,
				Reason:  fmt.Sprintf("duplicate label %q (first on line %d)", label, first),
			}
		}
		seen[label] = lineNo

		electrodes = append(electrodes, Electrode{
			Label:    label,
			Position: vec(coords[0], coords[1], coords[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading electrodes: %w", err)
	}

	return NewLabeledPointSet(electrodes)
}

// LoadElectrodes reads an electrode file from disk.
func LoadElectrodes(path string, scale float64) (*LabeledPointSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading electrode file: %w", err)
	}
	set, err := ParseElectrodes(bytes.NewReader(data), scale)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// WriteElectrodes writes one "label x y z" line per point with 6 decimals.
func WriteElectrodes(w io.Writer, set *LabeledPointSet) error {
	bw := bufio.NewWriter(w)
	for _, e := range set.Electrodes() {
		if _, err := fmt.Fprintf(bw, "%s %.6f %.6f %.6f\n", e.Label, e.Position.X, e.Position.Y, e.Position.Z); err != nil {
			return fmt.Errorf("writing %s: %w", e.Label, err)
		}
	}
	return bw.Flush()
}

// SaveElectrodes writes set to path, creating parent directories.
func SaveElectrodes(path string, set *LabeledPointSet) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	var buf bytes.Buffer
	if err := WriteElectrodes(&buf, set); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing electrode file: %w", err)
	}
	return nil
}
