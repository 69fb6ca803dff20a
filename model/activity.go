package model

import (
	"fmt"
	"strings"
	"time"
)

// AnonymousIdentity is used for events raised before an identity is resolved.
// The statistics aggregator never folds events for it.
const AnonymousIdentity = "anonymous"

// ActivityKind is the structured type of an activity event. The display label
// (Action) is kept alongside it for the human-readable log view.
type ActivityKind string

const (
	KindUnknown          ActivityKind = ""
	KindLoginSuccess     ActivityKind = "login_success"
	KindLoginFailed      ActivityKind = "login_failed"
	KindPaperGenerated   ActivityKind = "paper_generated"
	KindGenerateFailed   ActivityKind = "generate_failed"
	KindDownloadSuccess  ActivityKind = "download_success"
	KindDownloadFailed   ActivityKind = "download_failed"
	KindRateLimited      ActivityKind = "rate_limited"
	KindQuotaApproaching ActivityKind = "quota_approaching"
	KindQuotaExceeded    ActivityKind = "quota_exceeded"
	KindQuotaCheckFailed ActivityKind = "quota_check_failed"
	KindOther            ActivityKind = "other"
)

// Action labels follow "<Verb> <Outcome>[ - <Reason>]".
const (
	ActionLoginSuccess     = "Login Success"
	ActionLoginFailed      = "Login Failed"
	ActionGenerated        = "Generated Questions"
	ActionGenerateFailed   = "Generate Failed"
	ActionDownloadSuccess  = "Download Success"
	ActionDownloadFailed   = "Download Failed"
	ActionRateLimited      = "Rate Limit Exceeded"
	ActionQuotaApproaching = "Approaching Quota"
	ActionQuotaExceeded    = "Quota Exceeded"
	ActionQuotaCheckFailed = "Quota Check Failed"
)

// ActivityEvent is one immutable record in the activity log
type ActivityEvent struct {
	ID        string                 `json:"id"`
	Identity  string                 `json:"identity"`
	Kind      ActivityKind           `json:"kind,omitempty"`
	Action    string                 `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Label builds an action label with an optional reason suffix.
func Label(action, reason string) string {
	if reason == "" {
		return action
	}
	return fmt.Sprintf("%s - %s", action, reason)
}

// ClassifyAction infers a kind from a free-text label. Only used for rows
// persisted without a kind.
func ClassifyAction(action string) ActivityKind {
	switch {
	case strings.Contains(action, ActionLoginSuccess):
		return KindLoginSuccess
	case strings.Contains(action, ActionGenerated):
		return KindPaperGenerated
	case strings.Contains(action, ActionDownloadSuccess):
		return KindDownloadSuccess
	case strings.Contains(action, ActionLoginFailed):
		return KindLoginFailed
	case strings.Contains(action, ActionGenerateFailed):
		return KindGenerateFailed
	case strings.Contains(action, ActionDownloadFailed):
		return KindDownloadFailed
	case strings.Contains(action, ActionRateLimited):
		return KindRateLimited
	case strings.Contains(action, ActionQuotaCheckFailed):
		return KindQuotaCheckFailed
	case strings.Contains(action, ActionQuotaExceeded):
		return KindQuotaExceeded
	case strings.Contains(action, ActionQuotaApproaching):
		return KindQuotaApproaching
	}
	return KindOther
}

// EffectiveKind returns the stored kind, falling back to label classification.
func (e ActivityEvent) EffectiveKind() ActivityKind {
	if e.Kind != KindUnknown {
		return e.Kind
	}
	return ClassifyAction(e.Action)
}

// QuestionDetail is one question block of a paper request
type QuestionDetail struct {
	Type string `json:"type"`
	Num  int    `json:"num"`
}

// PaperGeneratedDetail is the typed detail of a KindPaperGenerated event
type PaperGeneratedDetail struct {
	Subject         string
	ClassName       string
	Curriculum      string
	QuestionDetails []QuestionDetail
	DifficultySplit string
	TimeDuration    string
	Tokens          int
}

// Map converts the detail into the open map stored on the event.
func (d PaperGeneratedDetail) Map() map[string]interface{} {
	questions := make([]interface{}, 0, len(d.QuestionDetails))
	for _, q := range d.QuestionDetails {
		questions = append(questions, map[string]interface{}{
			"type": q.Type,
			"num":  q.Num,
		})
	}
	return map[string]interface{}{
		"subject":         d.Subject,
		"className":       d.ClassName,
		"curriculum":      d.Curriculum,
		"questionDetails": questions,
		"difficultySplit": d.DifficultySplit,
		"timeDuration":    d.TimeDuration,
		"tokens":          d.Tokens,
	}
}

// ActivityListResponse represents a page of activity events
type ActivityListResponse struct {
	Limit      int             `json:"limit"`
	Total      int             `json:"total"`
	Activities []ActivityEvent `json:"activities"`
}
