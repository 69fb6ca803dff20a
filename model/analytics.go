package model

import "time"

// UserStatistics holds counters folded from one identity's activity events
type UserStatistics struct {
	Identity             string         `json:"identity"`
	TotalLogins          int            `json:"totalLogins"`
	TotalPapersGenerated int            `json:"totalPapersGenerated"`
	TotalDownloads       int            `json:"totalDownloads"`
	TokensUsed           int64          `json:"tokensUsed"`
	FirstActivity        time.Time      `json:"firstActivity"`
	LastActivity         time.Time      `json:"lastActivity"`
	Subjects             map[string]int `json:"subjects"`
	Classes              map[string]int `json:"classes"`
	Curriculums          map[string]int `json:"curriculums"`
	QuestionTypes        map[string]int `json:"questionTypes"`
	DifficultyProfiles   map[string]int `json:"difficultyProfiles"`
	Durations            map[string]int `json:"durations"`
	AvgQuestionsPerPaper float64        `json:"avgQuestionsPerPaper"`
}

// NewUserStatistics returns empty statistics with allocated tables
func NewUserStatistics(identity string) *UserStatistics {
	return &UserStatistics{
		Identity:           identity,
		Subjects:           make(map[string]int),
		Classes:            make(map[string]int),
		Curriculums:        make(map[string]int),
		QuestionTypes:      make(map[string]int),
		DifficultyProfiles: make(map[string]int),
		Durations:          make(map[string]int),
	}
}

// Clone returns a deep copy.
func (s *UserStatistics) Clone() *UserStatistics {
	c := *s
	c.Subjects = cloneTable(s.Subjects)
	c.Classes = cloneTable(s.Classes)
	c.Curriculums = cloneTable(s.Curriculums)
	c.QuestionTypes = cloneTable(s.QuestionTypes)
	c.DifficultyProfiles = cloneTable(s.DifficultyProfiles)
	c.Durations = cloneTable(s.Durations)
	return &c
}

// EnsureTables allocates any table left nil by decoding.
func (s *UserStatistics) EnsureTables() {
	for _, t := range []*map[string]int{&s.Subjects, &s.Classes, &s.Curriculums, &s.QuestionTypes, &s.DifficultyProfiles, &s.Durations} {
		if *t == nil {
			*t = make(map[string]int)
		}
	}
}

func cloneTable(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RankedCount is one entry of a popularity ranking
type RankedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AggregateAnalytics is computed on demand across all identities
type AggregateAnalytics struct {
	TotalUsers           int            `json:"totalUsers"`
	ActiveUsers          int            `json:"activeUsers"` // lastActivity within the trailing 7 days
	TotalLogins          int            `json:"totalLogins"`
	TotalPapersGenerated int            `json:"totalPapersGenerated"`
	TotalDownloads       int            `json:"totalDownloads"`
	TotalTokensUsed      int64          `json:"totalTokensUsed"`
	DownloadRate         float64        `json:"downloadRate"`
	AvgQuestionsPerPaper float64        `json:"avgQuestionsPerPaper"`
	Subjects             map[string]int `json:"subjects"`
	Classes              map[string]int `json:"classes"`
	Curriculums          map[string]int `json:"curriculums"`
	QuestionTypes        map[string]int `json:"questionTypes"`
	DifficultyProfiles   map[string]int `json:"difficultyProfiles"`
	Durations            map[string]int `json:"durations"`
	TopSubjects          []RankedCount  `json:"topSubjects"`
	TopClasses           []RankedCount  `json:"topClasses"`
	TopQuestionTypes     []RankedCount  `json:"topQuestionTypes"`
	TopUsers             []RankedCount  `json:"topUsers"` // by papers generated
	GeneratedAt          time.Time      `json:"generatedAt"`
}
