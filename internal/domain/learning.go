package domain

// DrugID identifies a drug in the catalog
type DrugID string

// LearningState is the learning status of a single drug for the active user
type LearningState int

const (
	NotLearning LearningState = iota
	Current
	Finished
)

// String returns the wire name of the state
func (s LearningState) String() string {
	switch s {
	case Current:
		return "current"
	case Finished:
		return "finished"
	default:
		return "not-learning"
	}
}

// StudyRecordSummary is the progress summary pushed to the remote service.
// It is derived from the progress store at sync time and never stored locally.
type StudyRecordSummary struct {
	CurrentLearning  int `json:"currentLearning"`
	FinishedLearning int `json:"finishedLearning"`
	TotalScore       int `json:"totalScore"`
}

// Validate checks that all counters are non-negative
func (s StudyRecordSummary) Validate() error {
	if s.CurrentLearning < 0 || s.FinishedLearning < 0 || s.TotalScore < 0 {
		return ErrInvalidRecord
	}
	return nil
}

// LearningSnapshot is a full copy of the learning lists and best scores
type LearningSnapshot struct {
	Current  []DrugID       `json:"currentLearning"`
	Finished []DrugID       `json:"finished"`
	Scores   map[DrugID]int `json:"drugScores"`
}
