package align

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTracker_Initial(t *testing.T) {
	st := NewStateTracker()

	assert.False(t, st.HasRun())
	assert.Nil(t, st.Output(false))
	assert.Equal(t, IdentitySimilarity(), st.Adjustment())
	assert.Equal(t, "nas", st.Status().Next)

	snap := st.Snapshot()
	assert.False(t, snap.Aligned)
	assert.Nil(t, snap.Flip)
	assert.Equal(t, 0, snap.Electrodes)
}

func TestStateTracker_OutputAndAdjustment(t *testing.T) {
	st := NewStateTracker()
	run := knownRun(t)
	st.SetSource("montage.txt", run.Source)
	st.SetRun(run)

	out := st.Output(false)
	require.NotNil(t, out)
	assert.Equal(t, run.Aligned.Labels(), out.Labels())

	assert.Equal(t, []string{"Fp1", "Cz", "Oz"}, st.Output(true).Labels())

	adjust := SimilarityParams{Translation: Offset{X: 0.01}, Scale: 1}
	st.SetAdjustment(adjust)
	cz, _ := st.Output(false).Get("Cz")
	want, _ := run.Aligned.Get("Cz")
	assert.True(t, vectorsEqual(cz, want.Add(vec(0.01, 0, 0)), 1e-12), "Cz = %v", cz)
}

func TestStateTracker_Snapshot(t *testing.T) {
	st := NewStateTracker()
	run := knownRun(t)
	st.SetSource("montage.txt", run.Source)
	st.UpdateStatus(PickStatus{State: PickComplete, Count: 3, Ready: true, Picks: run.TargetFiducials.Points()})
	st.SetError(errors.New("boom"))
	st.SetRun(run)

	snap := st.Snapshot()
	assert.Equal(t, "montage.txt", snap.Source)
	assert.Equal(t, 6, snap.Electrodes)
	assert.True(t, snap.Aligned)
	require.NotNil(t, snap.Residual)
	assert.Less(t, *snap.Residual, 1e-9)
	assert.Empty(t, snap.LastError, "a completed run clears the error")
	assert.Len(t, snap.Pick.Picks, 3)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"complete"`)
	assert.Contains(t, string(data), `"message":"Picked all. Click 'Done'."`)
}

func TestStateTracker_PersistsToCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alignment.json")
	st := NewStateTrackerWithCache(path)
	run := knownRun(t)
	st.SetSource("montage.txt", run.Source)
	st.SetRun(run)

	adjust := SimilarityParams{Rotation: EulerAngles{X: 4}, Scale: 1.1}
	st.SetAdjustment(adjust)

	rec, err := LoadAlignment(path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "montage.txt", rec.Source)
	assert.Equal(t, adjust, rec.Adjustment)

	// A new tracker on the same cache picks the adjustment back up.
	assert.Equal(t, adjust, NewStateTrackerWithCache(path).Adjustment())
}

func TestStateTracker_ConcurrentAccess(t *testing.T) {
	st := NewStateTracker()
	run := knownRun(t)
	st.SetSource("montage.txt", run.Source)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.UpdateStatus(PickStatus{Count: i % 4})
			st.SetRun(run)
			st.SetAdjustment(IdentitySimilarity())
		}()
		go func() {
			defer wg.Done()
			_ = st.Snapshot()
			_ = st.Output(true)
		}()
	}
	wg.Wait()
	assert.True(t, st.HasRun())
}
