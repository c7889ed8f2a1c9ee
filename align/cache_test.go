package align

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownRun(t *testing.T) *AlignmentRun {
	t.Helper()
	source := montage(t)
	src, err := source.Fiducials()
	require.NoError(t, err)

	rt := RigidTransform{Rotation: EulerZYX(25, -10, 5), Translation: vec(0.01, 0.02, 0.3)}
	run, err := NewPipeline().Align(source, transformTriple(src, rt))
	require.NoError(t, err)
	return run
}

func TestAlignmentCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "alignment.json")
	run := knownRun(t)
	adjust := SimilarityParams{Rotation: EulerAngles{Z: 3}, Translation: Offset{Y: 0.002}, Scale: 1.02}

	require.NoError(t, SaveAlignment(path, NewAlignmentRecord("montage.txt", run, adjust)))

	rec, err := LoadAlignment(path)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "montage.txt", rec.Source)
	assert.Equal(t, adjust, rec.Adjustment)
	assert.NotZero(t, rec.LastUpdated)
	assert.Less(t, rec.Age(), time.Minute)
	assert.LessOrEqual(t, rec.Rotation.MaxAbsDiff(run.Alignment.Transform.Rotation), 1e-15)

	// Re-applying the record reproduces the adjusted output of the run.
	want := run.Adjust(adjust)
	got := rec.Apply(run.Source)
	for _, e := range want.Electrodes() {
		p, ok := got.Get(e.Label)
		require.True(t, ok)
		assert.True(t, vectorsEqual(p, e.Position, 1e-12), "%s = %v, want %v", e.Label, p, e.Position)
	}
}

func TestAlignmentCache_IdentityAdjustment(t *testing.T) {
	run := knownRun(t)
	rec := NewAlignmentRecord("", run, IdentitySimilarity())

	got := rec.Apply(run.Source)
	for _, e := range run.Aligned.Electrodes() {
		p, _ := got.Get(e.Label)
		assert.True(t, vectorsEqual(p, e.Position, 1e-12))
	}
}

func TestLoadAlignment_Missing(t *testing.T) {
	rec, err := LoadAlignment(filepath.Join(t.TempDir(), "none.json"))
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLoadAlignment_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"bad flip", `{"flip":{"x":2,"y":1,"z":1},"rotation":[[1,0,0],[0,1,0],[0,0,1]]}`},
		{"reflection", `{"flip":{"x":1,"y":1,"z":1},"rotation":[[-1,0,0],[0,1,0],[0,0,1]]}`},
		{"zero rotation", `{"flip":{"x":1,"y":1,"z":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadAlignment(path)
			assert.Error(t, err)
		})
	}
}
