package calibration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadWeightsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")

	in := &AdaptedWeights{
		Weights:     map[string]float64{"access": 0.6, "zoning": 0.4},
		Adjustments: map[string]float64{"access": 0.05, "zoning": -0.05},
		SampleSize:  12,
	}
	require.NoError(t, SaveWeights(path, in))

	out, err := LoadWeights(path)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Weights, out.Weights)
	assert.Equal(t, in.Adjustments, out.Adjustments)
	assert.Equal(t, 12, out.SampleSize)
}

func TestLoadWeightsMissingFile(t *testing.T) {
	out, err := LoadWeights(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, out, "missing file means fall back to base weights")
}

func TestSaveWeightsNil(t *testing.T) {
	err := SaveWeights(filepath.Join(t.TempDir(), "weights.yaml"), nil)
	assert.Error(t, err)
}

func TestWeightsWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")

	reloaded := make(chan *AdaptedWeights, 4)
	ww, err := NewWeightsWatcher(path, func(w *AdaptedWeights) {
		reloaded <- w
	})
	require.NoError(t, err)
	require.NoError(t, ww.Start())
	defer ww.Stop()

	require.NoError(t, SaveWeights(path, &AdaptedWeights{
		Weights:    map[string]float64{"access": 1.0},
		SampleSize: 7,
	}))

	select {
	case w := <-reloaded:
		assert.Equal(t, 7, w.SampleSize)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not observe the weights write")
	}
}
