package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/muzaffar640/vidread-backend/internal/models"
	"github.com/muzaffar640/vidread-backend/internal/storage"
)

const (
	DefaultOpenAIModel  = "gpt-4o-mini"
	DefaultWhisperModel = "whisper-1"
)

// OpenAIConfig holds configuration shared by the OpenAI generator and
// transcriber.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	WhisperModel      string
	RequestsPerMinute int
	BaseURL           string       // Optional (tests)
	HTTPClient        *http.Client // Optional (tests)
}

func newOpenAIClient(cfg OpenAIConfig) openai.Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	// Retries belong to the task executor, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openai.NewClient(opts...)
}

// OpenAIGenerator produces book fragments with a chat model in JSON mode.
type OpenAIGenerator struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func NewOpenAIGenerator(cfg OpenAIConfig, log logrus.FieldLogger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIGenerator{
		client:  newOpenAIClient(cfg),
		model:   model,
		limiter: newProviderLimiter(cfg.RequestsPerMinute),
		log:     log,
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, text string, gc models.GenerationContext) (*models.Fragment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &models.PermanentTaskError{Provider: providerOpenAI, Err: errors.New("empty transcript window")}
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(buildFragmentPrompt(text, gc)),
		},
		Temperature: openai.Float(0.3),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &models.TransientProviderError{Provider: providerOpenAI, Err: errors.New("no completion choices returned")}
	}

	choice := completion.Choices[0]
	g.log.WithFields(logrus.Fields{
		"model":         completion.Model,
		"tokens":        completion.Usage.TotalTokens,
		"finish_reason": choice.FinishReason,
		"index":         gc.Index,
	}).Debug("Generated fragment")

	fragment, err := ParseFragment(choice.Message.Content)
	if err != nil {
		return nil, &models.TransientProviderError{Provider: providerOpenAI, Err: err}
	}
	return fragment, nil
}

// WhisperTranscriber clips the window out of the stored audio with ffmpeg
// and sends it to the transcription endpoint.
type WhisperTranscriber struct {
	client  openai.Client
	model   string
	blobs   storage.BlobStore
	clipper Clipper
	tmpDir  string
	limiter *rate.Limiter
}

func NewWhisperTranscriber(cfg OpenAIConfig, blobs storage.BlobStore, clipper Clipper, tmpDir string) (*WhisperTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	model := cfg.WhisperModel
	if model == "" {
		model = DefaultWhisperModel
	}
	return &WhisperTranscriber{
		client:  newOpenAIClient(cfg),
		model:   model,
		blobs:   blobs,
		clipper: clipper,
		tmpDir:  tmpDir,
		limiter: newProviderLimiter(cfg.RequestsPerMinute),
	}, nil
}

type verboseTranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio models.AudioRef, window models.TimeWindow) ([]models.Segment, error) {
	clipPath, err := clipWindow(ctx, w.blobs, w.clipper, audio, window, w.tmpDir)
	if err != nil {
		return nil, err
	}
	defer os.Remove(clipPath)

	f, err := os.Open(clipPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:                   f,
		Model:                  openai.AudioModel(w.model),
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment"},
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	var out verboseTranscription
	if err := json.Unmarshal([]byte(resp.RawJSON()), &out); err != nil {
		return nil, &models.TransientProviderError{Provider: providerOpenAI, Err: fmt.Errorf("decode transcription: %w", err)}
	}

	segs := make([]models.Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segs = append(segs, models.Segment{
			Start: window.Start + s.Start,
			End:   window.Start + s.End,
			Text:  text,
		})
	}
	if len(segs) == 0 && strings.TrimSpace(out.Text) != "" {
		segs = append(segs, models.Segment{Start: window.Start, End: window.End, Text: strings.TrimSpace(out.Text)})
	}
	return segs, nil
}

// clipWindow fetches the stored audio and cuts the window out of it. The
// caller removes the returned file.
func clipWindow(ctx context.Context, blobs storage.BlobStore, clipper Clipper, audio models.AudioRef, window models.TimeWindow, dir string) (string, error) {
	src, cleanup, err := storage.Materialize(ctx, blobs, audio.Key, dir)
	defer cleanup()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", &models.PermanentTaskError{Provider: "storage", Err: fmt.Errorf("audio %s: %w", audio.Key, err)}
		}
		return "", &models.TransientProviderError{Provider: "storage", Err: err}
	}
	return clipper.Clip(ctx, src, window, dir)
}
