package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// step builds a two-agent experience whose values encode t so tests can tell
// which step a field came from.
func step(t float64, done bool) Experience {
	return Experience{
		Obs:     [][]float64{{t, t}, {-t, -t}},
		NextObs: [][]float64{{t + 1, t + 1}, {-t - 1, -t - 1}},
		Actions: [][]float64{{t / 10}, {-t / 10}},
		Rewards: []float64{1, 2},
		Dones:   []bool{done, false},
	}
}

func newBuffer(t *testing.T, capacity int, gamma float64, rollout int) *ReplayBuffer {
	t.Helper()
	rb, err := NewReplayBuffer(capacity, gamma, rollout, 2, rand.NewSource(1))
	require.NoError(t, err)
	return rb
}

func TestNewReplayBufferValidates(t *testing.T) {
	_, err := NewReplayBuffer(0, 0.9, 1, 2, nil)
	assert.Error(t, err)
	_, err = NewReplayBuffer(10, 0.9, 0, 2, nil)
	assert.Error(t, err)
	_, err = NewReplayBuffer(10, 0.9, 1, 0, nil)
	assert.Error(t, err)
}

func TestStoreSingleStep(t *testing.T) {
	rb := newBuffer(t, 10, 0.9, 1)
	rb.Store(step(0, false))
	rb.Store(step(1, false))
	assert.Equal(t, 2, rb.Len())
	assert.Equal(t, 10, rb.Capacity())
}

func TestStoreNStepReturn(t *testing.T) {
	rb := newBuffer(t, 10, 0.5, 3)
	rb.Store(step(0, false))
	rb.Store(step(1, false))
	assert.Equal(t, 0, rb.Len())
	rb.Store(step(2, true))
	require.Equal(t, 1, rb.Len())

	got := rb.items[0]
	assert.Equal(t, [][]float64{{0, 0}, {0, 0}}, got.Obs)
	assert.Equal(t, [][]float64{{3, 3}, {-3, -3}}, got.NextObs)
	assert.Equal(t, [][]float64{{0}, {0}}, got.Actions)
	assert.InDelta(t, 1+0.5+0.25, got.Rewards[0], 1e-12)
	assert.InDelta(t, 2*(1+0.5+0.25), got.Rewards[1], 1e-12)
	assert.Equal(t, []bool{true, false}, got.Dones)

	// The window slides by one step.
	rb.Store(step(3, false))
	require.Equal(t, 2, rb.Len())
	assert.Equal(t, [][]float64{{1, 1}, {-1, -1}}, rb.items[1].Obs)
}

func TestInitNStepResetsWindow(t *testing.T) {
	rb := newBuffer(t, 10, 0.9, 3)
	rb.Store(step(0, false))
	rb.Store(step(1, false))
	rb.InitNStep()
	rb.Store(step(2, false))
	rb.Store(step(3, false))
	assert.Equal(t, 0, rb.Len())
	rb.Store(step(4, false))
	require.Equal(t, 1, rb.Len())
	assert.Equal(t, [][]float64{{2, 2}, {-2, -2}}, rb.items[0].Obs)
}

func TestRingOverwritesOldest(t *testing.T) {
	rb := newBuffer(t, 3, 0.9, 1)
	for i := 0; i < 5; i++ {
		rb.Store(step(float64(i), false))
	}
	assert.Equal(t, 3, rb.Len())

	var firstObs []float64
	for _, item := range rb.items {
		firstObs = append(firstObs, item.Obs[0][0])
	}
	assert.ElementsMatch(t, []float64{2, 3, 4}, firstObs)
}

func TestStoreCopiesInput(t *testing.T) {
	rb := newBuffer(t, 3, 0.9, 1)
	e := step(1, false)
	rb.Store(e)
	e.Obs[0][0] = 99
	e.Rewards[0] = 99
	assert.Equal(t, 1.0, rb.items[0].Obs[0][0])
	assert.Equal(t, 1.0, rb.items[0].Rewards[0])
}

func TestStorePanicsOnAgentMismatch(t *testing.T) {
	rb := newBuffer(t, 3, 0.9, 1)
	e := step(1, false)
	e.Dones = e.Dones[:1]
	assert.Panics(t, func() { rb.Store(e) })
}

func TestSampleErrors(t *testing.T) {
	rb := newBuffer(t, 10, 0.9, 1)
	_, err := rb.Sample(1)
	assert.ErrorIs(t, err, ErrBufferEmpty)

	rb.Store(step(0, false))
	_, err = rb.Sample(2)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestSampleAgentMajor(t *testing.T) {
	rb := newBuffer(t, 100, 0.9, 1)
	for i := 0; i < 20; i++ {
		rb.Store(step(float64(i), i%2 == 0))
	}

	b, err := rb.Sample(8)
	require.NoError(t, err)
	require.Len(t, b.Obs, 2)

	rows, cols := b.Obs[0].Dims()
	assert.Equal(t, 8, rows)
	assert.Equal(t, 2, cols)
	_, actCols := b.Actions[1].Dims()
	assert.Equal(t, 1, actCols)

	seen := map[float64]bool{}
	for row := 0; row < 8; row++ {
		tt := b.Obs[0].At(row, 0)
		assert.False(t, seen[tt], "transition %v sampled twice", tt)
		seen[tt] = true

		assert.Equal(t, -tt, b.Obs[1].At(row, 0))
		assert.Equal(t, tt+1, b.NextObs[0].At(row, 0))
		assert.Equal(t, 1.0, b.Rewards[0][row])
		assert.Equal(t, 2.0, b.Rewards[1][row])
		wantDone := 0.0
		if int(tt)%2 == 0 {
			wantDone = 1
		}
		assert.Equal(t, wantDone, b.Dones[0][row])
		assert.Equal(t, 0.0, b.Dones[1][row])
	}
}
