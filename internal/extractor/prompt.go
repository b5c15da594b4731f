package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"sales-insights-go/internal/types"
)

const promptTemplate = `You are an expert sales-call analyst reviewing a recorded call between a
salesperson and a customer.

The salesperson in this call is: %s

Analyze the transcript and return ONLY a JSON object with exactly these keys:
{
  "summary": "2-3 sentence executive summary of what happened and the outcome",
  "objections": ["specific customer objections, e.g. price too high"],
  "objections_handled": true,
  "products_mentioned": ["products or services discussed"],
  "strengths": ["what the salesperson did well"],
  "improvement_areas": ["what the salesperson should improve"],
  "recommendations": ["concrete next actions, e.g. send proposal in 24h"],
  "sentiment_score": 0.0,
  "conversion": "converted"
}

RULES:
- Base every conclusion only on the transcript, never invent facts.
- sentiment_score is the customer's overall sentiment, -1.0 to 1.0.
- objections_handled is true only if the salesperson addressed the
  objections that came up; with no objections, set it to true.
- conversion is exactly one of: converted, not_converted, ambiguous.
  Use "converted" only for an explicit close, "ambiguous" when the
  outcome is unclear.
- If something is not present in the transcript, use an empty list or 0.
- Respond with the JSON object alone: no commentary, no markdown fences.

TRANSCRIPT:
%s`

func buildPrompt(t types.Transcript, vendor types.Attribution) string {
	who := "not identified; infer from context"
	if vendor.Known {
		who = vendor.Vendor
	}
	return fmt.Sprintf(promptTemplate, who, transcriptText(t))
}

// transcriptText renders diarized turns when available, falling back to
// the flat text the transcription service produced.
func transcriptText(t types.Transcript) string {
	if len(t.Utterances) == 0 {
		return t.Text
	}
	var b strings.Builder
	for _, u := range t.Utterances {
		b.WriteString(u.Speaker)
		b.WriteString(": ")
		b.WriteString(u.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// extractContentFromChoices reads openai-style choices[0].message.content
func extractContentFromChoices(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return ""
	}
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```yaml", "```text", "```", "`json", "`"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}

	return ""
}
