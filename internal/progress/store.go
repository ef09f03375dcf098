// Package progress tracks which drugs the active user is studying or has
// finished, and the best score reached on each drug.
package progress

import (
	"cmp"
	"maps"
	"slices"
	"sync"

	"github.com/drug-speak/internal/domain"
)

type entry struct {
	state domain.LearningState
	// seq orders drugs within a list by the time they entered their state
	seq uint64
}

// Store holds the learning state of every tracked drug. Each drug has exactly
// one state, so Current and Finished are mutually exclusive by construction.
type Store struct {
	mu      sync.RWMutex
	entries map[domain.DrugID]entry
	scores  map[domain.DrugID]int
	seq     uint64
}

// NewStore creates an empty progress store
func NewStore() *Store {
	return &Store{
		entries: make(map[domain.DrugID]entry),
		scores:  make(map[domain.DrugID]int),
	}
}

// transition moves id into state, keeping its list position if unchanged.
// Must be called with mu held.
func (s *Store) transition(id domain.DrugID, state domain.LearningState) {
	if state == domain.NotLearning {
		delete(s.entries, id)
		return
	}
	if e, ok := s.entries[id]; ok && e.state == state {
		return
	}
	s.seq++
	s.entries[id] = entry{state: state, seq: s.seq}
}

// AddToCurrent starts studying id, taking it out of Finished if needed
func (s *Store) AddToCurrent(id domain.DrugID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition(id, domain.Current)
}

// RemoveFromCurrent stops studying id. Finished drugs are left alone.
func (s *Store) RemoveFromCurrent(id domain.DrugID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[id].state == domain.Current {
		s.transition(id, domain.NotLearning)
	}
}

// MoveToFinished marks id finished from any prior state
func (s *Store) MoveToFinished(id domain.DrugID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition(id, domain.Finished)
}

// MoveToCurrent puts id back into Current from any prior state
func (s *Store) MoveToCurrent(id domain.DrugID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition(id, domain.Current)
}

// RemoveFromFinished drops id from Finished. Current drugs are left alone.
func (s *Store) RemoveFromFinished(id domain.DrugID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[id].state == domain.Finished {
		s.transition(id, domain.NotLearning)
	}
}

// RecordScore keeps the highest score seen for id. It reports whether the
// stored score changed.
func (s *Store) RecordScore(id domain.DrugID, score int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if score <= s.scores[id] {
		return false
	}
	s.scores[id] = score
	return true
}

// ClearAll forgets every state and score
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	clear(s.scores)
	s.seq = 0
}

// ReplaceFromRemote replaces all collections with a server-confirmed snapshot.
// Transition rules are not applied; an id listed in both lists ends Finished.
func (s *Store) ReplaceFromRemote(current, finished []domain.DrugID, scores map[domain.DrugID]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[domain.DrugID]entry, len(current)+len(finished))
	s.seq = 0
	for _, id := range current {
		s.transition(id, domain.Current)
	}
	for _, id := range finished {
		s.transition(id, domain.Finished)
	}

	s.scores = make(map[domain.DrugID]int, len(scores))
	maps.Copy(s.scores, scores)
}

// State returns the learning state of id
func (s *Store) State(id domain.DrugID) domain.LearningState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id].state
}

// IsCurrent reports whether id is being studied
func (s *Store) IsCurrent(id domain.DrugID) bool {
	return s.State(id) == domain.Current
}

// IsFinished reports whether id is finished
func (s *Store) IsFinished(id domain.DrugID) bool {
	return s.State(id) == domain.Finished
}

// InLearningList reports whether id is in either list
func (s *Store) InLearningList(id domain.DrugID) bool {
	return s.State(id) != domain.NotLearning
}

// Score returns the best score for id, 0 when none was recorded
func (s *Store) Score(id domain.DrugID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[id]
}

// CurrentCount returns the number of drugs being studied
func (s *Store) CurrentCount() int {
	return s.count(domain.Current)
}

// FinishedCount returns the number of finished drugs
func (s *Store) FinishedCount() int {
	return s.count(domain.Finished)
}

func (s *Store) count(state domain.LearningState) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.state == state {
			n++
		}
	}
	return n
}

// TotalScore returns the sum of all best scores
func (s *Store) TotalScore() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, v := range s.scores {
		total += v
	}
	return total
}

// Current returns the drugs being studied, in the order they were added
func (s *Store) Current() []domain.DrugID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(domain.Current)
}

// Finished returns the finished drugs, in the order they were finished
func (s *Store) Finished() []domain.DrugID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(domain.Finished)
}

// list must be called with mu held
func (s *Store) list(state domain.LearningState) []domain.DrugID {
	ids := make([]domain.DrugID, 0)
	for id, e := range s.entries {
		if e.state == state {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b domain.DrugID) int {
		return cmp.Compare(s.entries[a].seq, s.entries[b].seq)
	})
	return ids
}

// Summary computes the study record summary from the live state
func (s *Store) Summary() domain.StudyRecordSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.StudyRecordSummary{}
	for _, e := range s.entries {
		switch e.state {
		case domain.Current:
			summary.CurrentLearning++
		case domain.Finished:
			summary.FinishedLearning++
		}
	}
	for _, v := range s.scores {
		summary.TotalScore += v
	}
	return summary
}

// Snapshot returns a copy of both lists and the score mapping
func (s *Store) Snapshot() domain.LearningSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.LearningSnapshot{
		Current:  s.list(domain.Current),
		Finished: s.list(domain.Finished),
		Scores:   maps.Clone(s.scores),
	}
}
