package lockbox

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/charlie0129/lockbox/pkg/events"
)

// Sequence is the ordered list of stages. It is safe for concurrent use; a
// running sequencer only ever sees copies of stages, so edits affect stages
// that have not been entered yet.
type Sequence struct {
	mu       sync.RWMutex
	stages   []Stage
	observer events.Observer
	clock    clock.Clock
}

func newSequence(observer events.Observer, clk clock.Clock) *Sequence {
	if clk == nil {
		clk = clock.New()
	}
	return &Sequence{
		observer: observer,
		clock:    clk,
	}
}

// Len returns the number of stages.
func (s *Sequence) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.stages)
}

// Get returns a copy of the stage at index i. Negative indices count from
// the end.
func (s *Sequence) Get(i int) (Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, err := s.resolve(i, len(s.stages))
	if err != nil {
		return Stage{}, err
	}
	return s.stages[i].Clone(), nil
}

// Snapshot returns copies of all stages.
func (s *Sequence) Snapshot() []Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Stage, len(s.stages))
	for i, st := range s.stages {
		out[i] = st.Clone()
	}
	return out
}

// Append adds a stage to the end and returns it with its index set.
func (s *Sequence) Append(st Stage) Stage {
	s.mu.Lock()
	st = st.Clone()
	st.Index = len(s.stages)
	s.stages = append(s.stages, st)
	s.mu.Unlock()

	s.publish(events.StageAdded, st)
	return st.Clone()
}

// Insert adds a stage before index i. i may equal Len to append.
func (s *Sequence) Insert(i int, st Stage) (Stage, error) {
	s.mu.Lock()
	i, err := s.resolve(i, len(s.stages)+1)
	if err != nil {
		s.mu.Unlock()
		return Stage{}, err
	}
	st = st.Clone()
	s.stages = append(s.stages, Stage{})
	copy(s.stages[i+1:], s.stages[i:])
	s.stages[i] = st
	s.renumber()
	st = s.stages[i].Clone()
	s.mu.Unlock()

	s.publish(events.StageAdded, st)
	return st, nil
}

// Pop removes and returns the stage at index i. Negative indices count from
// the end, so Pop(-1) removes the last stage.
func (s *Sequence) Pop(i int) (Stage, error) {
	s.mu.Lock()
	i, err := s.resolve(i, len(s.stages))
	if err != nil {
		s.mu.Unlock()
		return Stage{}, err
	}
	st := s.stages[i]
	s.stages = append(s.stages[:i], s.stages[i+1:]...)
	s.renumber()
	s.mu.Unlock()

	s.publish(events.StageRemoved, st)
	return st, nil
}

// Remove removes the first stage whose display name is name.
func (s *Sequence) Remove(name string) (Stage, error) {
	s.mu.RLock()
	idx := -1
	for i, st := range s.stages {
		if st.DisplayName() == name {
			idx = i
			break
		}
	}
	s.mu.RUnlock()

	if idx < 0 {
		return Stage{}, errors.Wrapf(ErrStageIndex, "no stage named %q", name)
	}
	return s.Pop(idx)
}

// Update applies fn to the stage at index i. The stage is left unchanged if
// fn returns an error.
func (s *Sequence) Update(i int, fn func(*Stage) error) (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(i, len(s.stages))
	if err != nil {
		return Stage{}, err
	}
	st := s.stages[i].Clone()
	if err := fn(&st); err != nil {
		return Stage{}, err
	}
	st.Index = i
	s.stages[i] = st
	return st.Clone(), nil
}

// replace swaps all stages at once without notifying the observer.
func (s *Sequence) replace(stages []Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stages = make([]Stage, len(stages))
	for i, st := range stages {
		s.stages[i] = st.Clone()
	}
	s.renumber()
}

// at returns the stage at i, or false when i is past the end.
func (s *Sequence) at(i int) (Stage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.stages) {
		return Stage{}, false
	}
	return s.stages[i].Clone(), true
}

func (s *Sequence) renumber() {
	for i := range s.stages {
		s.stages[i].Index = i
	}
}

func (s *Sequence) resolve(i, n int) (int, error) {
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, errors.Wrapf(ErrStageIndex, "index %d, length %d", i, n)
	}
	return i, nil
}

func (s *Sequence) publish(name string, st Stage) {
	if s.observer == nil {
		return
	}
	s.observer.Publish(name, events.StageEvent{
		Index: st.Index,
		Name:  st.DisplayName(),
		Ts:    s.clock.Now().Unix(),
	})
}
