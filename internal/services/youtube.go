package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	urlpkg "net/url"
	"regexp"
	"strconv"
	"strings"

	yt "github.com/kkdai/youtube/v2"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/models"
	"github.com/muzaffar640/vidread-backend/internal/storage"
)

const (
	providerYouTube = "youtube"

	// 500MB is roughly ten hours of 128kbps audio.
	maxAudioBytes = 500 * 1024 * 1024
)

var videoIDPattern = regexp.MustCompile(`(?:v=|\/v\/|youtu\.be\/|embed\/|shorts\/|live\/)([a-zA-Z0-9_-]{11})`)

// YouTubeService resolves YouTube URLs and extracts audio plus metadata.
// The audio is copied into blob storage so transcription chunks can read it
// independently.
type YouTubeService struct {
	ytClient *yt.Client
	blobs    storage.BlobStore
	log      logrus.FieldLogger
}

func NewYouTubeService(blobs storage.BlobStore, log logrus.FieldLogger) *YouTubeService {
	return &YouTubeService{
		ytClient: &yt.Client{},
		blobs:    blobs,
		log:      log,
	}
}

// ResolveVideoID accepts watch, short, embed, shorts and live URLs.
func (s *YouTubeService) ResolveVideoID(rawURL string) (string, error) {
	id := extractVideoID(strings.TrimSpace(rawURL))
	if id == "" {
		return "", &models.InvalidSourceError{URL: rawURL}
	}
	// kkdai validates the character set for us.
	if _, err := yt.ExtractVideoID(id); err != nil {
		return "", &models.InvalidSourceError{URL: rawURL}
	}
	return id, nil
}

func extractVideoID(raw string) string {
	parsed, err := urlpkg.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	path := strings.Trim(parsed.Path, "/")

	switch {
	case host == "youtu.be":
		candidate := strings.Split(path, "/")[0]
		if len(candidate) == 11 {
			return candidate
		}
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		if v := parsed.Query().Get("v"); len(v) == 11 {
			return v
		}
		parts := strings.Split(path, "/")
		if len(parts) >= 2 {
			switch parts[0] {
			case "shorts", "embed", "v", "live":
				if len(parts[1]) == 11 {
					return parts[1]
				}
			}
		}
		// Fallback regex for unusual URL forms on a YouTube host
		if m := videoIDPattern.FindStringSubmatch(raw); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// Extract downloads the best audio-only stream into blob storage and returns
// a reference to it along with the video metadata.
func (s *YouTubeService) Extract(ctx context.Context, rawURL string) (*models.Extraction, error) {
	videoID, err := s.ResolveVideoID(rawURL)
	if err != nil {
		return nil, &models.PermanentTaskError{Provider: providerYouTube, Err: err}
	}

	video, err := s.ytClient.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, classifyYouTubeError(videoID, err)
	}

	best, err := pickAudioFormat(video.Formats)
	if err != nil {
		return nil, &models.SourceUnavailableError{VideoID: videoID, Err: err}
	}

	meta := videoMetadata(video, best)
	if meta.DurationSeconds <= 0 {
		return nil, &models.PermanentTaskError{Provider: providerYouTube, Err: fmt.Errorf("video %s reports no duration", videoID)}
	}

	stream, size, err := s.ytClient.GetStreamContext(ctx, video, best)
	if err != nil {
		return nil, classifyYouTubeError(videoID, err)
	}
	defer stream.Close()

	if size > maxAudioBytes {
		return nil, &models.PermanentTaskError{
			Provider: providerYouTube,
			Err:      fmt.Errorf("audio stream exceeds %d MB limit", maxAudioBytes/(1024*1024)),
		}
	}

	mimeType := strings.TrimSpace(strings.Split(best.MimeType, ";")[0])
	if mimeType == "" {
		mimeType = "audio/mp4"
	}
	key := storage.AudioKey(videoID, extensionFor(mimeType))

	counter := &countingReader{r: io.LimitReader(stream, maxAudioBytes)}
	if err := s.blobs.Put(ctx, key, counter, size, mimeType); err != nil {
		return nil, &models.TransientProviderError{Provider: "storage", Err: err}
	}

	s.log.WithFields(logrus.Fields{
		"video_id": videoID,
		"itag":     best.ItagNo,
		"bytes":    counter.n,
		"duration": meta.DurationSeconds,
	}).Info("Extracted audio")

	return &models.Extraction{
		Audio: models.AudioRef{
			Key:      key,
			VideoID:  videoID,
			MimeType: mimeType,
			Size:     counter.n,
		},
		Metadata: meta,
	}, nil
}

func pickAudioFormat(formats yt.FormatList) (*yt.Format, error) {
	audio := formats.WithAudioChannels()
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio formats available")
	}

	// Prefer audio-only streams, they are a fraction of the size.
	var best *yt.Format
	for i := range audio {
		f := &audio[i]
		audioOnly := strings.HasPrefix(f.MimeType, "audio/")
		switch {
		case best == nil:
			best = f
		case audioOnly && !strings.HasPrefix(best.MimeType, "audio/"):
			best = f
		case audioOnly == strings.HasPrefix(best.MimeType, "audio/") && f.Bitrate > best.Bitrate:
			best = f
		}
	}
	return best, nil
}

func videoMetadata(video *yt.Video, format *yt.Format) models.VideoMetadata {
	meta := models.VideoMetadata{
		VideoID:         video.ID,
		Title:           video.Title,
		Channel:         video.Author,
		Description:     video.Description,
		DurationSeconds: video.Duration.Seconds(),
		UploadDate:      video.PublishDate,
		ThumbnailURL:    fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", video.ID),
	}
	if meta.DurationSeconds <= 0 && format != nil {
		if ms, err := strconv.ParseInt(format.ApproxDurationMs, 10, 64); err == nil {
			meta.DurationSeconds = float64(ms) / 1000
		}
	}
	return meta
}

func classifyYouTubeError(videoID string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, yt.ErrVideoPrivate),
		errors.Is(err, yt.ErrLoginRequired),
		errors.Is(err, yt.ErrNotPlayableInEmbed),
		errors.Is(err, yt.ErrInvalidCharactersInVideoID):
		return &models.SourceUnavailableError{VideoID: videoID, Err: err}
	case strings.Contains(strings.ToLower(err.Error()), "unavailable"):
		return &models.SourceUnavailableError{VideoID: videoID, Err: err}
	}
	return &models.TransientProviderError{Provider: providerYouTube, Err: err}
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/mpeg":
		return "mp3"
	default:
		return "m4a"
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
