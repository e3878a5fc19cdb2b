package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

const fragmentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["summary", "chapters"],
  "properties": {
    "summary": {"type": "string"},
    "chapters": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "content": {"type": "string"},
          "key_points": {"type": "array", "items": {"type": "string"}},
          "examples": {"type": "array", "items": {"type": "string"}},
          "quotes": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "glossary": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["term", "definition"],
        "properties": {
          "term": {"type": "string"},
          "definition": {"type": "string"}
        }
      }
    },
    "themes": {"type": "array", "items": {"type": "string"}},
    "target_audience": {"type": "string"},
    "difficulty_level": {"type": "string"},
    "further_reading": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string"},
          "author": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

// ErrMalformedOutput means the model returned something that is not a
// fragment. It is retried: the next sample usually parses.
var ErrMalformedOutput = errors.New("malformed model output")

var compiledFragmentSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("fragment.json", strings.NewReader(fragmentSchema)); err != nil {
		return nil, fmt.Errorf("failed to load fragment schema: %w", err)
	}
	return compiler.Compile("fragment.json")
})

// ParseFragment validates raw model output and decodes it. Markdown fences
// and leading chatter around the JSON object are tolerated.
func ParseFragment(raw string) (*models.Fragment, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	schema, err := compiledFragmentSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var f models.Fragment
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	normalizeFragment(&f)
	return &f, nil
}

func extractJSONObject(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

func normalizeFragment(f *models.Fragment) {
	f.Summary = strings.TrimSpace(f.Summary)
	for i := range f.Chapters {
		c := &f.Chapters[i]
		c.Title = strings.TrimSpace(c.Title)
		if c.KeyPoints == nil {
			c.KeyPoints = []string{}
		}
		if c.Examples == nil {
			c.Examples = []string{}
		}
	}
	if f.Glossary == nil {
		f.Glossary = []models.GlossaryEntry{}
	}
	if f.Themes == nil {
		f.Themes = []string{}
	}
	if f.FurtherReading == nil {
		f.FurtherReading = []models.Reading{}
	}
}
