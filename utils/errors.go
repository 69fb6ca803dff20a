package utils

import "errors"

var (
	ErrMissingIdentity    = errors.New("authentication required")
	ErrEmptySubject       = errors.New("subject cannot be empty")
	ErrEmptyClassName     = errors.New("class name cannot be empty")
	ErrEmptyCurriculum    = errors.New("curriculum cannot be empty")
	ErrNoQuestions        = errors.New("at least one question block is required")
	ErrInvalidQuestion    = errors.New("question blocks need a type and a positive count")
	ErrTooManyQuestions   = errors.New("too many questions requested")
	ErrEmptyContent       = errors.New("paper content cannot be empty")
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrInvalidCredentials = errors.New("invalid email or password")
)
