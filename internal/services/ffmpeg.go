package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// Clipper cuts one window out of an audio file.
type Clipper interface {
	Clip(ctx context.Context, src string, window models.TimeWindow, dir string) (string, error)
}

// FFmpegClipper shells out to ffmpeg. Output is mono 16kHz mp3, which keeps
// a ten minute window well under the Whisper upload limit.
type FFmpegClipper struct {
	binary string
}

func NewFFmpegClipper() (*FFmpegClipper, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return &FFmpegClipper{binary: path}, nil
}

func (c *FFmpegClipper) Clip(ctx context.Context, src string, window models.TimeWindow, dir string) (string, error) {
	out, err := os.CreateTemp(dir, "clip-*.mp3")
	if err != nil {
		return "", err
	}
	out.Close()

	cmd := exec.CommandContext(ctx, c.binary,
		"-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(window.Start),
		"-t", formatSeconds(window.Duration()),
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "48k",
		"-y",
		out.Name(),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(out.Name())
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &models.PermanentTaskError{
			Provider: "ffmpeg",
			Err:      fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output)),
		}
	}
	return out.Name(), nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
