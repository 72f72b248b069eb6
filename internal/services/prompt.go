package services

import (
	"fmt"
	"strings"
)

type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// PromptPair is a system/user prompt couple. Both halves are screened before
// they reach the model.
type PromptPair struct {
	System string
	User   string
}

// BuildCVEvaluationPrompt creates the prompt pair for CV scoring.
func (pb *PromptBuilder) BuildCVEvaluationPrompt(cvText, context, jobTitle string) PromptPair {
	system := fmt.Sprintf(`You are an expert HR recruiter evaluating a candidate's CV for a %s position.

Evaluate the following parameters on a 1-5 scale:
1. Technical Skills Match - Alignment with job requirements (backend, databases, APIs, cloud, AI/LLM)
2. Experience Level - Years of experience and project complexity
3. Relevant Achievements - Impact of past work (scaling, performance, adoption)
4. Cultural/Collaboration Fit - Communication, learning mindset, teamwork/leadership

Return ONLY a JSON object in this exact format:
{
  "technical_skills_match": <1-5>,
  "experience_level": <1-5>,
  "relevant_achievements": <1-5>,
  "cultural_fit": <1-5>,
  "feedback": "<detailed feedback 3-5 sentences explaining strengths and gaps>",
  "recommendation": "<one sentence hiring recommendation for this side of the evaluation>"
}

Be objective and thorough. Provide specific examples from the CV to justify your scores. Do not compute averages; return raw criterion scores only.`, jobTitle)

	user := fmt.Sprintf(`RELEVANT CONTEXT (job requirements and scoring guidance):
%s

CANDIDATE CV:
%s`, context, cvText)

	return PromptPair{System: system, User: user}
}

// BuildProjectEvaluationPrompt creates the prompt pair for project-report scoring.
func (pb *PromptBuilder) BuildProjectEvaluationPrompt(projectText, context string) PromptPair {
	system := `You are an expert technical evaluator assessing a candidate's project report for a backend developer take-home assignment.

Evaluate the following parameters on a 1-5 scale:
1. Correctness - Implements prompt design, LLM chaining, RAG context injection
2. Code Quality & Structure - Clean, modular, reusable, tested
3. Resilience & Error Handling - Handles long jobs, retries, randomness, API failures
4. Documentation & Explanation - README clarity, setup instructions, trade-off explanations
5. Creativity/Bonus - Extra features beyond requirements

Return ONLY a JSON object in this exact format:
{
  "correctness": <1-5>,
  "code_quality": <1-5>,
  "resilience": <1-5>,
  "documentation": <1-5>,
  "creativity": <1-5>,
  "feedback": "<detailed feedback 3-5 sentences explaining what was done well and what could be improved>",
  "recommendation": "<one sentence recommendation for this side of the evaluation>"
}

Be thorough and specific. Reference actual implementation details from the report. Do not compute averages; return raw criterion scores only.`

	user := fmt.Sprintf(`RELEVANT CONTEXT (case study requirements and scoring guidance):
%s

CANDIDATE'S PROJECT REPORT:
%s`, context, projectText)

	return PromptPair{System: system, User: user}
}

// BuildSynthesisPrompt creates the prompt pair for the overall summary.
func (pb *PromptBuilder) BuildSynthesisPrompt(cvFeedback, projectFeedback string, cvMatchRate, projectScore float64, jobTitle string) PromptPair {
	system := fmt.Sprintf(`You are an expert technical hiring manager making a final assessment of a candidate for a %s position.

Based on both evaluations, provide a concise overall summary (3-5 sentences) that includes:
1. Overall strengths of the candidate
2. Key gaps or areas for improvement
3. Final recommendation (Strong Hire / Hire / Maybe / No Hire)

Return ONLY the summary text, no JSON format needed. Be direct and actionable.`, jobTitle)

	user := fmt.Sprintf(`CV EVALUATION RESULTS:
- Match Rate: %.2f (out of 1.0)
- Feedback: %s

PROJECT EVALUATION RESULTS:
- Project Score: %.2f (out of 5.0)
- Feedback: %s`, cvMatchRate, cvFeedback, projectScore, projectFeedback)

	return PromptPair{System: system, User: user}
}

// BuildCVStructuringPrompt asks for a structured summary of the CV. The result
// is an enrichment; a failed call falls back to an empty structure.
func (pb *PromptBuilder) BuildCVStructuringPrompt(cvText string) PromptPair {
	system := `You are a CV parser. Extract a structured summary of the candidate's CV.

Return ONLY a JSON object in this exact format:
{
  "name": "<candidate name or empty string>",
  "experience": ["<one line per role>"],
  "skills": ["<skill>"],
  "education": ["<one line per degree>"]
}`

	return PromptPair{System: system, User: fmt.Sprintf("CV TEXT:\n%s", cvText)}
}

// BuildProjectStructuringPrompt asks for a structured summary of the project report.
func (pb *PromptBuilder) BuildProjectStructuringPrompt(projectText string) PromptPair {
	system := `You are a technical report parser. Extract a structured summary of the candidate's project report.

Return ONLY a JSON object in this exact format:
{
  "structure": "<one paragraph describing the project structure>",
  "implementation": "<one paragraph describing the implementation approach>",
  "documentation": "<one paragraph describing the documentation quality>"
}`

	return PromptPair{System: system, User: fmt.Sprintf("PROJECT REPORT TEXT:\n%s", projectText)}
}

// BuildRetrievalQuery creates the query text for RAG retrieval.
func (pb *PromptBuilder) BuildRetrievalQuery(queryType, jobTitle string) string {
	switch queryType {
	case "job_requirements":
		return fmt.Sprintf("Job requirements and qualifications for %s", jobTitle)
	case "cv_rubric":
		return "CV evaluation criteria and scoring guidelines"
	case "case_study":
		return "Project requirements, technical specifications, and evaluation criteria"
	case "project_rubric":
		return "Project evaluation criteria and scoring guidelines"
	default:
		return jobTitle
	}
}

// FormatRetrievedContext renders retrieved chunks into one context block.
func FormatRetrievedContext(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return "No relevant context found."
	}

	var parts []string
	for i, chunk := range chunks {
		parts = append(parts, fmt.Sprintf("--- Context %d (Score: %.2f) ---\n%s",
			i+1, chunk.Score, strings.TrimSpace(chunk.Text)))
	}

	return strings.Join(parts, "\n\n")
}
