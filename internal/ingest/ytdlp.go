package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

func isYouTube(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == "youtube.com" || host == "m.youtube.com" || host == "youtu.be"
}

// ResolveYouTubeURL uses yt-dlp to get a direct video URL for a YouTube link.
// Resolved URLs expire, so callers resolve again on every reconnect.
func ResolveYouTubeURL(ctx context.Context, youtubeURL string, maxHeight int) (string, error) {
	if maxHeight <= 0 {
		maxHeight = 720
	}
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--get-url",
		"--format", fmt.Sprintf("best[height<=%d][vcodec!=none]/best", maxHeight),
		"--no-playlist",
		youtubeURL,
	)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}
	return firstURL(string(output))
}

// firstURL picks the video URL from yt-dlp output, which may list separate
// video and audio URLs on consecutive lines.
func firstURL(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("yt-dlp returned empty URL")
}
