package model

// PaperRequest represents a question-paper generation request
type PaperRequest struct {
	Subject         string           `json:"subject" example:"Mathematics"`
	ClassName       string           `json:"className" example:"Grade 8"`
	Curriculum      string           `json:"curriculum" example:"CBSE"`
	QuestionDetails []QuestionDetail `json:"questionDetails"`
	DifficultySplit string           `json:"difficultySplit" example:"30-50-20"`
	TimeDuration    string           `json:"timeDuration" example:"90"`
	Instructions    string           `json:"instructions,omitempty"`
}

// TotalQuestions sums the requested question counts.
func (p PaperRequest) TotalQuestions() int {
	total := 0
	for _, q := range p.QuestionDetails {
		total += q.Num
	}
	return total
}

// PaperResponse is returned after a successful generation
type PaperResponse struct {
	Subject   string `json:"subject"`
	ClassName string `json:"className"`
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
}

// DownloadRequest carries a generated paper to be rendered as a document
type DownloadRequest struct {
	Subject   string `json:"subject"`
	ClassName string `json:"className"`
	Content   string `json:"content"`
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" example:"teacher@example.com"`
	Password string `json:"password" example:"SecurePassword123"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}
