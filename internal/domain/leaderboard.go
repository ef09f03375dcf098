package domain

import (
	"cmp"
	"slices"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// UserStudyRecord is the per-user progress summary held by the remote service
type UserStudyRecord struct {
	UserID           string    `json:"userId"`
	CurrentLearning  int       `json:"currentLearning"`
	FinishedLearning int       `json:"finishedLearning"`
	TotalScore       int       `json:"totalScore"`
	User             *UserInfo `json:"user,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Username returns the record's username, or "" when the user is unresolved
func (r *UserStudyRecord) Username() string {
	if r.User == nil {
		return ""
	}
	return r.User.Username
}

// Summary returns the counters of the record
func (r *UserStudyRecord) Summary() StudyRecordSummary {
	return StudyRecordSummary{
		CurrentLearning:  r.CurrentLearning,
		FinishedLearning: r.FinishedLearning,
		TotalScore:       r.TotalScore,
	}
}

// LeaderboardEntry is a ranked study record
type LeaderboardEntry struct {
	Rank   int             `json:"rank"`
	Record UserStudyRecord `json:"record"`
}

// StudyRecordEvent is an audit entry written on every accepted update
type StudyRecordEvent struct {
	UserID           string    `json:"user_id"`
	CurrentLearning  int       `json:"current_learning"`
	FinishedLearning int       `json:"finished_learning"`
	TotalScore       int       `json:"total_score"`
	Source           string    `json:"source"`
	Timestamp        time.Time `json:"timestamp"`
}

// StudyRecordSubmission is a study-record update attributed to a user
type StudyRecordSubmission struct {
	UserID  string             `json:"user_id"`
	Summary StudyRecordSummary `json:"summary"`
	Source  string             `json:"source,omitempty"`
}

// Event sources
const (
	SourceAPI   = "api"
	SourceKafka = "kafka"
)

// LeaderboardStats contains aggregate numbers over all study records
type LeaderboardStats struct {
	TotalLearners int `json:"total_learners"`
	TopScore      int `json:"top_score"`
	LowestScore   int `json:"lowest_score"`
}

// RankRecords returns a new slice ordered for the leaderboard: total score,
// then finished count, then current count (all descending), then username
// ascending by English collation. The input slice is left untouched.
func RankRecords(records []UserStudyRecord) []UserStudyRecord {
	ranked := slices.Clone(records)
	if ranked == nil {
		ranked = []UserStudyRecord{}
	}

	// collators keep internal buffers, so one per call
	coll := collate.New(language.English)

	slices.SortStableFunc(ranked, func(a, b UserStudyRecord) int {
		if c := cmp.Compare(b.TotalScore, a.TotalScore); c != 0 {
			return c
		}
		if c := cmp.Compare(b.FinishedLearning, a.FinishedLearning); c != 0 {
			return c
		}
		if c := cmp.Compare(b.CurrentLearning, a.CurrentLearning); c != 0 {
			return c
		}
		return coll.CompareString(a.Username(), b.Username())
	})
	return ranked
}

// RankOf returns the 1-based position of userID in a ranked slice.
// The second result is false when the user is absent.
func RankOf(ranked []UserStudyRecord, userID string) (int, bool) {
	if userID == "" {
		return 0, false
	}
	for i := range ranked {
		if ranked[i].UserID == userID {
			return i + 1, true
		}
	}
	return 0, false
}

// Entries wraps ranked records with their rank, keeping at most limit entries.
// A limit <= 0 keeps all of them.
func Entries(ranked []UserStudyRecord, limit int) []LeaderboardEntry {
	n := len(ranked)
	if limit > 0 && limit < n {
		n = limit
	}
	entries := make([]LeaderboardEntry, n)
	for i := 0; i < n; i++ {
		entries[i] = LeaderboardEntry{Rank: i + 1, Record: ranked[i]}
	}
	return entries
}

// Stats computes aggregate numbers over ranked records
func Stats(ranked []UserStudyRecord) LeaderboardStats {
	stats := LeaderboardStats{TotalLearners: len(ranked)}
	if len(ranked) > 0 {
		stats.TopScore = ranked[0].TotalScore
		stats.LowestScore = ranked[len(ranked)-1].TotalScore
	}
	return stats
}
