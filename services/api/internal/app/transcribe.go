package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var audioExtensions = map[string]bool{
	".webm": true,
	".mp3":  true,
	".mp4":  true,
	".m4a":  true,
	".mpeg": true,
	".mpga": true,
	".wav":  true,
	".ogg":  true,
}

// Transcribe converts an uploaded recording to text.
func (a *App) Transcribe(ctx context.Context, userID, filename string, audio io.Reader) (string, error) {
	if a.transcriber == nil {
		return "", ErrTranscriptionDisabled
	}
	if !audioExtensions[strings.ToLower(filepath.Ext(filename))] {
		return "", ErrUnsupportedAudio
	}
	text, err := a.transcriber.Transcribe(ctx, filepath.Base(filename), audio)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		a.countProviderFailure("whisper")
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	a.recordEvent(ctx, userID, "voice_transcribed", nil)
	return strings.TrimSpace(text), nil
}

func (a *App) countProviderFailure(provider string) {
	if a.metrics != nil {
		a.metrics.ProviderFailures.WithLabelValues(provider).Inc()
	}
}
