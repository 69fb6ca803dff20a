package utils

import (
	"regexp"
	"strings"

	"ai-rivu-backend/model"
)

// MaxQuestionsPerPaper bounds a single generation request
const MaxQuestionsPerPaper = 200

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-@:]{1,254}$`)

// ValidateIdentity checks that a caller-supplied identity token is usable as a
// partition key.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return ErrMissingIdentity
	}
	if !identityPattern.MatchString(identity) {
		return ErrInvalidIdentity
	}
	return nil
}

// NormalizeIdentity lowercases and trims an email-like identity
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// ValidatePaperRequest checks the parameters needed to build a prompt
func ValidatePaperRequest(req model.PaperRequest) error {
	if strings.TrimSpace(req.Subject) == "" {
		return ErrEmptySubject
	}
	if strings.TrimSpace(req.ClassName) == "" {
		return ErrEmptyClassName
	}
	if strings.TrimSpace(req.Curriculum) == "" {
		return ErrEmptyCurriculum
	}
	if len(req.QuestionDetails) == 0 {
		return ErrNoQuestions
	}
	for _, q := range req.QuestionDetails {
		if strings.TrimSpace(q.Type) == "" || q.Num <= 0 {
			return ErrInvalidQuestion
		}
	}
	if req.TotalQuestions() > MaxQuestionsPerPaper {
		return ErrTooManyQuestions
	}
	return nil
}

// ValidateDownloadRequest checks a download request
func ValidateDownloadRequest(req model.DownloadRequest) error {
	if strings.TrimSpace(req.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}
