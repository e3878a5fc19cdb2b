package services

import (
	"fmt"
	"strings"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

const fragmentShape = `{
  "summary": "2-4 paragraph summary of this part of the video",
  "chapters": [
    {"title": "...", "content": "multi-paragraph chapter text", "key_points": ["..."], "examples": ["..."], "quotes": ["verbatim quote"]}
  ],
  "glossary": [{"term": "...", "definition": "..."}],
  "themes": ["..."],
  "target_audience": "...",
  "difficulty_level": "beginner | intermediate | advanced",
  "further_reading": [{"title": "...", "author": "...", "description": "..."}]
}`

// buildFragmentPrompt lays out the generation prompt in layers: role,
// position in the video, output contract, then the transcript window.
func buildFragmentPrompt(text string, gc models.GenerationContext) string {
	var b strings.Builder

	// Layer 1: Role
	b.WriteString("You are an expert editor turning a video transcript into a well structured book.\n\n")

	// Layer 2: Source and position
	if gc.Title != "" {
		b.WriteString(fmt.Sprintf("Video: %q", gc.Title))
		if gc.Channel != "" {
			b.WriteString(fmt.Sprintf(" by %s", gc.Channel))
		}
		b.WriteString(".\n")
	}
	if gc.Total > 1 {
		b.WriteString(fmt.Sprintf("This is part %d of %d of the transcript. ", gc.Index+1, gc.Total))
		switch {
		case gc.Index == 0:
			b.WriteString("Open the book: chapters here come first.\n")
		case gc.Index == gc.Total-1:
			b.WriteString("This is the final part: close out the material, do not introduce it again.\n")
		default:
			b.WriteString("Continue from earlier parts without re-introducing the topic.\n")
		}
		b.WriteString("Reuse an existing chapter title only when this part genuinely continues that chapter.\n")
	}
	b.WriteString("\n")

	// Layer 3: Output contract
	b.WriteString("CRITICAL: Return ONLY a valid JSON object. No preamble, no markdown, no backticks.\n")
	b.WriteString("The object must have this shape:\n")
	b.WriteString(fragmentShape)
	b.WriteString("\n\nRules: at least one chapter; glossary terms must appear in this part of the transcript; quotes must be verbatim.\n\n")

	// Layer 4: Transcript
	b.WriteString("---TRANSCRIPT START---\n")
	b.WriteString(text)
	b.WriteString("\n---TRANSCRIPT END---\n")

	return b.String()
}

const transcribePrompt = "Transcribe the provided audio verbatim. Return ONLY a JSON array of objects " +
	`{"start": seconds, "end": seconds, "text": "..."}` +
	" with times relative to the start of the audio. No markdown, no explanations."
