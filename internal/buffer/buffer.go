// Package buffer is the replay store: a bounded ring of n-step transitions
// sampled uniformly into agent-major batches.
package buffer

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gammazero/deque"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Experience is one environment step for every agent. Slices are indexed by
// agent first.
type Experience struct {
	Obs     [][]float64
	NextObs [][]float64
	Actions [][]float64
	Rewards []float64
	Dones   []bool
}

// Batch holds sampled transitions agent-major: element i of every field
// belongs to agent i, with one row (or entry) per sampled transition.
type Batch struct {
	Obs     []*mat.Dense
	NextObs []*mat.Dense
	Actions []*mat.Dense
	Rewards [][]float64
	Dones   [][]float64
}

var (
	ErrBufferEmpty   = errors.New("buffer is empty")
	ErrBatchTooLarge = errors.New("batch size exceeds stored transitions")
)

type ReplayBuffer struct {
	mu       sync.Mutex
	items    []Experience
	next     int
	capacity int

	agentCount int
	gamma      float64
	rollout    int
	nStep      *deque.Deque[Experience]

	src rand.Source
}

func NewReplayBuffer(capacity int, gamma float64, rollout, agentCount int, src rand.Source) (*ReplayBuffer, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be greater than zero")
	}
	if rollout <= 0 {
		return nil, errors.New("rollout must be greater than zero")
	}
	if agentCount <= 0 {
		return nil, errors.New("agent count must be greater than zero")
	}
	return &ReplayBuffer{
		items:      make([]Experience, 0, min(capacity, 1<<16)),
		capacity:   capacity,
		agentCount: agentCount,
		gamma:      gamma,
		rollout:    rollout,
		nStep:      deque.New[Experience](rollout + 1),
		src:        src,
	}, nil
}

// Store pushes e into the n-step window. Once the window holds rollout steps
// the discounted transition from its oldest step is added to the ring.
func (rb *ReplayBuffer) Store(e Experience) {
	rb.checkShape(e)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.nStep.PushBack(clone(e))
	if rb.nStep.Len() > rb.rollout {
		rb.nStep.PopFront()
	}
	if rb.nStep.Len() < rb.rollout {
		return
	}

	first, last := rb.nStep.Front(), rb.nStep.Back()
	rewards := make([]float64, rb.agentCount)
	for k := 0; k < rb.nStep.Len(); k++ {
		discount := math.Pow(rb.gamma, float64(k))
		for a, r := range rb.nStep.At(k).Rewards {
			rewards[a] += discount * r
		}
	}
	rb.push(Experience{
		Obs:     first.Obs,
		NextObs: last.NextObs,
		Actions: first.Actions,
		Rewards: rewards,
		Dones:   last.Dones,
	})
}

func (rb *ReplayBuffer) push(e Experience) {
	if len(rb.items) < rb.capacity {
		rb.items = append(rb.items, e)
		return
	}
	rb.items[rb.next] = e
	rb.next = (rb.next + 1) % rb.capacity
}

// InitNStep clears the n-step window so the next stored steps start a fresh
// discounted return.
func (rb *ReplayBuffer) InitNStep() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.nStep.Clear()
}

// Sample draws batchSize distinct transitions uniformly at random.
func (rb *ReplayBuffer) Sample(batchSize int) (Batch, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.items) == 0 {
		return Batch{}, ErrBufferEmpty
	}
	if batchSize <= 0 || batchSize > len(rb.items) {
		return Batch{}, fmt.Errorf("%w: %d of %d", ErrBatchTooLarge, batchSize, len(rb.items))
	}

	idx := make([]int, batchSize)
	sampleuv.WithoutReplacement(idx, len(rb.items), rb.src)

	proto := rb.items[idx[0]]
	b := Batch{
		Obs:     make([]*mat.Dense, rb.agentCount),
		NextObs: make([]*mat.Dense, rb.agentCount),
		Actions: make([]*mat.Dense, rb.agentCount),
		Rewards: make([][]float64, rb.agentCount),
		Dones:   make([][]float64, rb.agentCount),
	}
	for a := 0; a < rb.agentCount; a++ {
		b.Obs[a] = mat.NewDense(batchSize, len(proto.Obs[a]), nil)
		b.NextObs[a] = mat.NewDense(batchSize, len(proto.NextObs[a]), nil)
		b.Actions[a] = mat.NewDense(batchSize, len(proto.Actions[a]), nil)
		b.Rewards[a] = make([]float64, batchSize)
		b.Dones[a] = make([]float64, batchSize)
		for row, i := range idx {
			item := rb.items[i]
			b.Obs[a].SetRow(row, item.Obs[a])
			b.NextObs[a].SetRow(row, item.NextObs[a])
			b.Actions[a].SetRow(row, item.Actions[a])
			b.Rewards[a][row] = item.Rewards[a]
			if item.Dones[a] {
				b.Dones[a][row] = 1
			}
		}
	}
	return b, nil
}

// Len is the number of stored n-step transitions.
func (rb *ReplayBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return len(rb.items)
}

func (rb *ReplayBuffer) Capacity() int {
	return rb.capacity
}

func (rb *ReplayBuffer) checkShape(e Experience) {
	n := rb.agentCount
	if len(e.Obs) != n || len(e.NextObs) != n || len(e.Actions) != n || len(e.Rewards) != n || len(e.Dones) != n {
		panic(fmt.Sprintf("buffer: experience does not cover %d agents", n))
	}
}

func clone(e Experience) Experience {
	return Experience{
		Obs:     cloneRows(e.Obs),
		NextObs: cloneRows(e.NextObs),
		Actions: cloneRows(e.Actions),
		Rewards: append([]float64(nil), e.Rewards...),
		Dones:   append([]bool(nil), e.Dones...),
	}
}

func cloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}
