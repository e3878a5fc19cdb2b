package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

const (
	providerOpenAI   = "openai"
	providerGemini   = "gemini"
	providerCaptions = "captions"
)

// newProviderLimiter paces calls to one provider. Zero or negative means
// unlimited.
func newProviderLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// classifyOpenAIError sorts an SDK error into the task error taxonomy.
func classifyOpenAIError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			return &models.TransientProviderError{Provider: providerOpenAI, Err: err}
		}
		return &models.PermanentTaskError{Provider: providerOpenAI, Err: err}
	}
	return &models.TransientProviderError{Provider: providerOpenAI, Err: err}
}

func classifyGeminiError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if retryableStatus(gErr.Code) {
			return &models.TransientProviderError{Provider: providerGemini, Err: err}
		}
		return &models.PermanentTaskError{Provider: providerGemini, Err: err}
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return &models.TransientProviderError{Provider: providerGemini, Err: err}
		default:
			return &models.PermanentTaskError{Provider: providerGemini, Err: err}
		}
	}
	return &models.TransientProviderError{Provider: providerGemini, Err: err}
}
