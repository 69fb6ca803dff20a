package llm

import (
	"fmt"
	"strings"

	"ai-rivu-backend/model"
)

const systemInstruction = "You write school exam question papers. Output only the paper: a header, " +
	"numbered sections per question type, marks for each question, and no answers."

// BuildPrompt renders a paper request as generation instructions
func BuildPrompt(req model.PaperRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Create a %s question paper for %s following the %s curriculum.\n",
		req.Subject, req.ClassName, req.Curriculum)
	if req.TimeDuration != "" {
		fmt.Fprintf(&b, "Time allowed: %s minutes.\n", req.TimeDuration)
	}
	if req.DifficultySplit != "" {
		fmt.Fprintf(&b, "Difficulty split (easy/medium/hard): %s.\n", req.DifficultySplit)
	}

	b.WriteString("Sections:\n")
	for i, q := range req.QuestionDetails {
		fmt.Fprintf(&b, "%d. %d x %s\n", i+1, q.Num, q.Type)
	}
	fmt.Fprintf(&b, "Total questions: %d.\n", req.TotalQuestions())

	if s := strings.TrimSpace(req.Instructions); s != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", s)
	}
	return b.String()
}
