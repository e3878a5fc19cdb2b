package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ytapi "github.com/hightemp/youtube-transcript-api-go/api"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

const captionCacheSize = 16

// captionFetcher returns the full caption track of a video as segments.
type captionFetcher func(ctx context.Context, videoID string) ([]models.Segment, error)

// CaptionTranscriber serves transcription windows from the video's caption
// track instead of running speech-to-text. Every window of a video needs the
// same track, so recent tracks are cached.
type CaptionTranscriber struct {
	fetch   captionFetcher
	limiter *rate.Limiter
	log     logrus.FieldLogger

	mu    sync.Mutex
	cache map[string][]models.Segment
	order []string
}

func NewCaptionTranscriber(languages []string, perMinute int, log logrus.FieldLogger) *CaptionTranscriber {
	api := ytapi.NewYouTubeTranscriptApi()
	fetch := func(_ context.Context, videoID string) ([]models.Segment, error) {
		transcript, err := api.GetTranscript(videoID, languages)
		if err != nil {
			// Fallback: request any available language
			transcript, err = api.GetTranscript(videoID, nil)
			if err != nil {
				return nil, &models.SourceUnavailableError{VideoID: videoID, Err: fmt.Errorf("no subtitles available: %w", err)}
			}
		}
		segs := make([]models.Segment, 0, len(transcript.Entries))
		for _, entry := range transcript.Entries {
			text := strings.TrimSpace(entry.Text)
			if text == "" {
				continue
			}
			segs = append(segs, models.Segment{
				Start: entry.Start,
				End:   entry.Start + entry.Duration,
				Text:  text,
			})
		}
		if len(segs) == 0 {
			return nil, &models.SourceUnavailableError{VideoID: videoID, Err: fmt.Errorf("subtitle track is empty")}
		}
		return segs, nil
	}
	return newCaptionTranscriber(fetch, newProviderLimiter(perMinute), log)
}

func newCaptionTranscriber(fetch captionFetcher, limiter *rate.Limiter, log logrus.FieldLogger) *CaptionTranscriber {
	return &CaptionTranscriber{
		fetch:   fetch,
		limiter: limiter,
		log:     log,
		cache:   make(map[string][]models.Segment),
	}
}

// Transcribe returns the caption segments that start inside the window.
func (c *CaptionTranscriber) Transcribe(ctx context.Context, audio models.AudioRef, window models.TimeWindow) ([]models.Segment, error) {
	segs, err := c.track(ctx, audio.VideoID)
	if err != nil {
		return nil, err
	}
	out := []models.Segment{}
	for _, s := range segs {
		if s.Start >= window.Start && s.Start < window.End {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *CaptionTranscriber) track(ctx context.Context, videoID string) ([]models.Segment, error) {
	c.mu.Lock()
	segs, ok := c.cache[videoID]
	c.mu.Unlock()
	if ok {
		return segs, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	segs, err := c.fetch(ctx, videoID)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"video_id": videoID, "segments": len(segs)}).Debug("Fetched caption track")

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[videoID]; !ok {
		c.cache[videoID] = segs
		c.order = append(c.order, videoID)
		if len(c.order) > captionCacheSize {
			delete(c.cache, c.order[0])
			c.order = c.order[1:]
		}
	}
	return segs, nil
}
