package stats

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ai-rivu-backend/model"
)

// ActiveWindow is how recent lastActivity must be for an identity to count
// as active.
const ActiveWindow = 7 * 24 * time.Hour

const topN = 10

// Aggregator folds activity events into per-identity statistics
type Aggregator struct {
	mu    sync.RWMutex
	users map[string]*model.UserStatistics
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		users: make(map[string]*model.UserStatistics),
	}
}

// OnEvent folds one event. It is not idempotent: replaying an event counts
// it twice.
func (a *Aggregator) OnEvent(e model.ActivityEvent) {
	if e.Identity == "" || e.Identity == model.AnonymousIdentity {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.fold(e)
}

func (a *Aggregator) fold(e model.ActivityEvent) {
	s, ok := a.users[e.Identity]
	if !ok {
		s = model.NewUserStatistics(e.Identity)
		s.FirstActivity = e.Timestamp
		a.users[e.Identity] = s
	}
	if s.FirstActivity.IsZero() || e.Timestamp.Before(s.FirstActivity) {
		s.FirstActivity = e.Timestamp
	}
	if e.Timestamp.After(s.LastActivity) {
		s.LastActivity = e.Timestamp
	}

	switch e.EffectiveKind() {
	case model.KindLoginSuccess:
		s.TotalLogins++
	case model.KindPaperGenerated:
		foldPaper(s, e.Detail)
	case model.KindDownloadSuccess:
		s.TotalDownloads++
	}
}

func foldPaper(s *model.UserStatistics, d map[string]interface{}) {
	s.TotalPapersGenerated++

	increment(s.Subjects, stringField(d, "subject"))
	class := stringField(d, "className")
	if class == "" {
		class = stringField(d, "class")
	}
	increment(s.Classes, class)
	increment(s.Curriculums, stringField(d, "curriculum"))
	increment(s.DifficultyProfiles, stringField(d, "difficultySplit"))
	increment(s.Durations, stringField(d, "timeDuration"))

	questions := 0
	if items, ok := d["questionDetails"].([]interface{}); ok {
		for _, item := range items {
			q, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			num := intField(q, "num")
			if num <= 0 {
				continue
			}
			questions += num
			if t := stringField(q, "type"); t != "" {
				s.QuestionTypes[t] += num
			}
		}
	}

	n := float64(s.TotalPapersGenerated)
	s.AvgQuestionsPerPaper = (s.AvgQuestionsPerPaper*(n-1) + float64(questions)) / n

	s.TokensUsed += int64(intField(d, "tokens"))
}

// UserStatistics returns a copy of one identity's statistics
func (a *Aggregator) UserStatistics(identity string) (*model.UserStatistics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.users[identity]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// AllUserStatistics returns a copy of every identity's statistics
func (a *Aggregator) AllUserStatistics() map[string]*model.UserStatistics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]*model.UserStatistics, len(a.users))
	for id, s := range a.users {
		out[id] = s.Clone()
	}
	return out
}

// Restore replaces all statistics with a persisted snapshot
func (a *Aggregator) Restore(users map[string]*model.UserStatistics) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.users = make(map[string]*model.UserStatistics, len(users))
	for id, s := range users {
		if s == nil {
			continue
		}
		c := s.Clone()
		c.EnsureTables()
		c.Identity = id
		a.users[id] = c
	}
}

// Rebuild recomputes all statistics from the activity log, in log order
func (a *Aggregator) Rebuild(events []model.ActivityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.users = make(map[string]*model.UserStatistics)
	for _, e := range events {
		if e.Identity == "" || e.Identity == model.AnonymousIdentity {
			continue
		}
		a.fold(e)
	}
}

// Reset zeroes one identity's statistics. It reports whether the identity
// existed.
func (a *Aggregator) Reset(identity string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.users[identity]
	if !ok {
		return false
	}
	fresh := model.NewUserStatistics(identity)
	fresh.FirstActivity = s.FirstActivity
	fresh.LastActivity = s.LastActivity
	a.users[identity] = fresh
	return true
}

// PapersGenerated returns totalPapersGenerated for identity, 0 when unknown
func (a *Aggregator) PapersGenerated(ctx context.Context, identity string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if s, ok := a.users[identity]; ok {
		return s.TotalPapersGenerated, nil
	}
	return 0, nil
}

// AggregateAnalytics folds every identity into global analytics
func (a *Aggregator) AggregateAnalytics(now time.Time) model.AggregateAnalytics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return Aggregate(a.users, now)
}

// Aggregate computes analytics over a set of user statistics. The result
// does not depend on iteration order.
func Aggregate(users map[string]*model.UserStatistics, now time.Time) model.AggregateAnalytics {
	out := model.AggregateAnalytics{
		Subjects:           make(map[string]int),
		Classes:            make(map[string]int),
		Curriculums:        make(map[string]int),
		QuestionTypes:      make(map[string]int),
		DifficultyProfiles: make(map[string]int),
		Durations:          make(map[string]int),
		GeneratedAt:        now,
	}

	cutoff := now.Add(-ActiveWindow)
	userPapers := make(map[string]int, len(users))
	var questionTotal float64

	for id, s := range users {
		out.TotalUsers++
		if s.LastActivity.After(cutoff) {
			out.ActiveUsers++
		}
		out.TotalLogins += s.TotalLogins
		out.TotalPapersGenerated += s.TotalPapersGenerated
		out.TotalDownloads += s.TotalDownloads
		out.TotalTokensUsed += s.TokensUsed
		questionTotal += s.AvgQuestionsPerPaper * float64(s.TotalPapersGenerated)

		merge(out.Subjects, s.Subjects)
		merge(out.Classes, s.Classes)
		merge(out.Curriculums, s.Curriculums)
		merge(out.QuestionTypes, s.QuestionTypes)
		merge(out.DifficultyProfiles, s.DifficultyProfiles)
		merge(out.Durations, s.Durations)

		if s.TotalPapersGenerated > 0 {
			userPapers[id] = s.TotalPapersGenerated
		}
	}

	if out.TotalPapersGenerated > 0 {
		out.DownloadRate = float64(out.TotalDownloads) / float64(out.TotalPapersGenerated) * 100
		out.AvgQuestionsPerPaper = questionTotal / float64(out.TotalPapersGenerated)
	}

	out.TopSubjects = Rank(out.Subjects, topN)
	out.TopClasses = Rank(out.Classes, topN)
	out.TopQuestionTypes = Rank(out.QuestionTypes, topN)
	out.TopUsers = Rank(userPapers, topN)
	return out
}

// Rank sorts a frequency table by count (descending, ties by name) and keeps
// the first n entries.
func Rank(table map[string]int, n int) []model.RankedCount {
	ranked := make([]model.RankedCount, 0, len(table))
	for name, count := range table {
		ranked = append(ranked, model.RankedCount{Name: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Name < ranked[j].Name
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func merge(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}

func increment(table map[string]int, key string) {
	if key == "" {
		return
	}
	table[key]++
}

// stringField reads a detail value as a trimmed string. Numbers are
// formatted, since durations arrive as either "90" or 90.
func stringField(d map[string]interface{}, key string) string {
	switch v := d[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// intField reads a detail value as an int. JSON-decoded numbers are float64.
func intField(d map[string]interface{}, key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
