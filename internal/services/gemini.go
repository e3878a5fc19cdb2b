package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/muzaffar640/vidread-backend/internal/models"
	"github.com/muzaffar640/vidread-backend/internal/storage"
)

const DefaultGeminiModel = "gemini-2.5-flash"

type GeminiConfig struct {
	APIKey            string
	Model             string
	RequestsPerMinute int
}

// GeminiService wraps one Gemini client. It implements both the generator
// and the transcriber capability; one limiter paces both.
type GeminiService struct {
	client    *genai.Client
	model     string
	limiter   *rate.Limiter
	blobs     storage.BlobStore
	clipper   Clipper
	tmpDir    string
	log       logrus.FieldLogger
	pollEvery time.Duration
}

func NewGeminiService(ctx context.Context, cfg GeminiConfig, blobs storage.BlobStore, clipper Clipper, tmpDir string, log logrus.FieldLogger) (*GeminiService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Gemini API key not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiService{
		client:    client,
		model:     model,
		limiter:   newProviderLimiter(cfg.RequestsPerMinute),
		blobs:     blobs,
		clipper:   clipper,
		tmpDir:    tmpDir,
		log:       log,
		pollEvery: 2 * time.Second,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

func (s *GeminiService) jsonModel() *genai.GenerativeModel {
	model := s.client.GenerativeModel(s.model)
	model.SetTemperature(0.3)
	model.SetTopP(0.95)
	model.ResponseMIMEType = "application/json"
	return model
}

// Generate implements the generator capability.
func (s *GeminiService) Generate(ctx context.Context, text string, gc models.GenerationContext) (*models.Fragment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &models.PermanentTaskError{Provider: providerGemini, Err: errors.New("empty transcript window")}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := s.jsonModel().GenerateContent(ctx, genai.Text(buildFragmentPrompt(text, gc)))
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if blocked := blockedReason(resp); blocked != "" {
		return nil, &models.PermanentTaskError{Provider: providerGemini, Err: fmt.Errorf("response blocked: %s", blocked)}
	}

	fragment, err := ParseFragment(extractText(resp))
	if err != nil {
		return nil, &models.TransientProviderError{Provider: providerGemini, Err: err}
	}
	return fragment, nil
}

// Transcribe implements the transcriber capability: the window is clipped,
// uploaded through the File API and transcribed with timestamps.
func (s *GeminiService) Transcribe(ctx context.Context, audio models.AudioRef, window models.TimeWindow) ([]models.Segment, error) {
	clipPath, err := clipWindow(ctx, s.blobs, s.clipper, audio, window, s.tmpDir)
	if err != nil {
		return nil, err
	}
	defer os.Remove(clipPath)

	f, err := os.Open(clipPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	file, err := s.client.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		DisplayName: fmt.Sprintf("%s-%.0f", audio.VideoID, window.Start),
		MIMEType:    "audio/mpeg",
	})
	if err != nil {
		return nil, classifyGeminiError(fmt.Errorf("failed to upload audio to Gemini: %w", err))
	}
	// Ensure remote file is cleaned up
	defer s.client.DeleteFile(context.Background(), file.Name)

	if err := s.waitActive(ctx, file); err != nil {
		return nil, err
	}

	resp, err := s.jsonModel().GenerateContent(ctx,
		genai.Text(transcribePrompt),
		genai.FileData{MIMEType: file.MIMEType, URI: file.URI},
	)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return []models.Segment{}, nil
	}
	return parseTimedSegments(text, window), nil
}

func (s *GeminiService) waitActive(ctx context.Context, file *genai.File) error {
	for i := 0; i < 30; i++ {
		if file.State == genai.FileStateActive {
			return nil
		}
		if file.State == genai.FileStateFailed {
			return &models.PermanentTaskError{Provider: providerGemini, Err: errors.New("Gemini failed to process uploaded audio file")}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollEvery):
		}

		current, err := s.client.GetFile(ctx, file.Name)
		if err != nil {
			return classifyGeminiError(fmt.Errorf("failed to get uploaded file status: %w", err))
		}
		file = current
	}
	return &models.TransientProviderError{Provider: providerGemini, Err: errors.New("audio file did not become active in time")}
}

// parseTimedSegments decodes the model's JSON segment list and shifts it to
// absolute time. Output that is not a segment list becomes one segment
// spanning the whole window.
func parseTimedSegments(text string, window models.TimeWindow) []models.Segment {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var raw []models.Segment
	parsed := false
	if start, end := strings.Index(body, "["), strings.LastIndex(body, "]"); start >= 0 && end > start {
		parsed = json.Unmarshal([]byte(body[start:end+1]), &raw) == nil
	}

	segs := make([]models.Segment, 0, len(raw))
	for _, r := range raw {
		t := strings.TrimSpace(r.Text)
		if t == "" {
			continue
		}
		start := window.Start + r.Start
		end := window.Start + r.End
		if end < start {
			end = start
		}
		if start >= window.End {
			continue
		}
		segs = append(segs, models.Segment{Start: start, End: end, Text: t})
	}
	if !parsed {
		return []models.Segment{{Start: window.Start, End: window.End, Text: body}}
	}
	return segs
}

func blockedReason(resp *genai.GenerateContentResponse) string {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return resp.PromptFeedback.BlockReason.String()
	}
	for _, cand := range resp.Candidates {
		if cand.FinishReason == genai.FinishReasonSafety {
			return cand.FinishReason.String()
		}
	}
	return ""
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
