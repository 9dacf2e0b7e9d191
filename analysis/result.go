package analysis

import (
	"encoding/json"
	"strings"
)

const (
	FallbackSummary = "failed to parse structured summary"
	NoTextAvailable = "No text available"
)

// Instruction is sent with the audio. The reply should be a JSON object with
// the four Result fields.
const Instruction = `Transcribe this audio recording and analyze it.
Respond with a single JSON object and nothing else, using exactly these fields:
{
  "raw_text": "the complete transcription",
  "summary": "a concise summary of the recording",
  "key_points": ["the main points discussed"],
  "action_items": ["tasks or follow ups that were mentioned"]
}`

type Result struct {
	RawText     string   `json:"raw_text"`
	Summary     *string  `json:"summary"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
}

// ParseResult extracts the structured result from a model reply. Markdown
// code fences are removed first. A reply that is not a JSON object yields
// the whole reply as raw text with the fallback summary, and ok is false.
func ParseResult(text string) (result Result, ok bool) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	if strings.HasPrefix(cleaned, "{") && json.Unmarshal([]byte(cleaned), &result) == nil {
		result.normalize()
		return result, true
	}

	summary := FallbackSummary
	result = Result{RawText: text, Summary: &summary}
	result.normalize()
	return result, false
}

func (r *Result) normalize() {
	if r.KeyPoints == nil {
		r.KeyPoints = []string{}
	}
	if r.ActionItems == nil {
		r.ActionItems = []string{}
	}
}
