package services

import "github.com/santhosh-tekuri/jsonschema/v5"

// Output schemas for every structured generation call. A response that fails
// its schema triggers the fallback escalation in the generation client.

var cvScoreSchema = jsonschema.MustCompileString("cv_scores.json", `{
	"type": "object",
	"required": ["technical_skills_match", "experience_level", "relevant_achievements", "cultural_fit", "feedback", "recommendation"],
	"properties": {
		"technical_skills_match": {"type": "number", "minimum": 1, "maximum": 5},
		"experience_level": {"type": "number", "minimum": 1, "maximum": 5},
		"relevant_achievements": {"type": "number", "minimum": 1, "maximum": 5},
		"cultural_fit": {"type": "number", "minimum": 1, "maximum": 5},
		"feedback": {"type": "string", "minLength": 1},
		"recommendation": {"type": "string", "minLength": 1}
	}
}`)

var projectScoreSchema = jsonschema.MustCompileString("project_scores.json", `{
	"type": "object",
	"required": ["correctness", "code_quality", "resilience", "documentation", "creativity", "feedback", "recommendation"],
	"properties": {
		"correctness": {"type": "number", "minimum": 1, "maximum": 5},
		"code_quality": {"type": "number", "minimum": 1, "maximum": 5},
		"resilience": {"type": "number", "minimum": 1, "maximum": 5},
		"documentation": {"type": "number", "minimum": 1, "maximum": 5},
		"creativity": {"type": "number", "minimum": 1, "maximum": 5},
		"feedback": {"type": "string", "minLength": 1},
		"recommendation": {"type": "string", "minLength": 1}
	}
}`)

var cvStructureSchema = jsonschema.MustCompileString("cv_structure.json", `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"experience": {"type": "array", "items": {"type": "string"}},
		"skills": {"type": "array", "items": {"type": "string"}},
		"education": {"type": "array", "items": {"type": "string"}}
	}
}`)

var projectStructureSchema = jsonschema.MustCompileString("project_structure.json", `{
	"type": "object",
	"properties": {
		"structure": {"type": "string"},
		"implementation": {"type": "string"},
		"documentation": {"type": "string"}
	}
}`)

var injectionVerdictSchema = jsonschema.MustCompileString("injection_verdict.json", `{
	"type": "object",
	"required": ["detected", "severity", "confidence"],
	"properties": {
		"detected": {"type": "boolean"},
		"severity": {"type": "string", "enum": ["none", "low", "medium", "high", "critical"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reason": {"type": "string"},
		"flagged_spans": {"type": "array", "items": {"type": "string"}}
	}
}`)

var safetyVerdictSchema = jsonschema.MustCompileString("safety_verdict.json", `{
	"type": "object",
	"required": ["blocked"],
	"properties": {
		"blocked": {"type": "boolean"},
		"reasons": {"type": "array", "items": {"type": "string"}}
	}
}`)
