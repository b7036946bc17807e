package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// maxFrameSize bounds a single JPEG frame read from ffmpeg.
const maxFrameSize = 10 * 1024 * 1024

// SourceKind is the transport of a camera source.
type SourceKind string

const (
	SourceDevice  SourceKind = "device"  // V4L2/UVC device node
	SourceRTSP    SourceKind = "rtsp"
	SourceHTTP    SourceKind = "http"
	SourceYouTube SourceKind = "youtube" // resolved through yt-dlp
	SourceFile    SourceKind = "file"
)

// ClassifySource infers the transport from the source string.
func ClassifySource(src string) SourceKind {
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "/dev/video"), strings.HasPrefix(lower, "v4l2:"):
		return SourceDevice
	case strings.HasPrefix(lower, "rtsp://"), strings.HasPrefix(lower, "rtsps://"):
		return SourceRTSP
	case isYouTube(lower):
		return SourceYouTube
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return SourceHTTP
	default:
		return SourceFile
	}
}

// InputOptions configures how ffmpeg opens and scales the source.
type InputOptions struct {
	Format string // V4L2 input format, e.g. mjpeg
	FPS    int
	Width  int
	Loop   bool // restart file sources at EOF
}

// ffmpegArgs builds the ffmpeg command line that writes MJPEG frames to stdout.
func ffmpegArgs(kind SourceKind, input string, opts InputOptions) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	switch kind {
	case SourceDevice:
		args = append(args, "-f", "v4l2")
		if opts.Format != "" {
			args = append(args, "-input_format", opts.Format)
		}
		if opts.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(opts.FPS))
		}
		input = strings.TrimPrefix(input, "v4l2:")
	case SourceRTSP:
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // 5s socket timeout (microseconds)
		)
	case SourceHTTP, SourceYouTube:
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000", // 10s (microseconds)
		)
	case SourceFile:
		// Read at native rate so a file behaves like a live camera.
		args = append(args, "-re")
		if opts.Loop {
			args = append(args, "-stream_loop", "-1")
		}
	}

	filters := []string{}
	if opts.FPS > 0 {
		filters = append(filters, fmt.Sprintf("fps=%d", opts.FPS))
	}
	if opts.Width > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-2", opts.Width))
	}

	args = append(args, "-i", input)
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	return append(args,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

// FrameCallback is called for each extracted JPEG frame.
type FrameCallback func(frameData []byte) error

// FFmpegExtractor runs one ffmpeg process and splits its output into JPEG frames.
type FFmpegExtractor struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Run starts ffmpeg with args and calls callback for each JPEG frame. It
// blocks until the context is cancelled or the stream ends, and returns the
// number of frames delivered.
func (f *FFmpegExtractor) Run(ctx context.Context, args []string, callback FrameCallback) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	frames, readErr := readJPEGFrames(stdout, callback)
	if readErr != nil {
		cancel()
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return frames, ctx.Err()
	case readErr != nil:
		return frames, fmt.Errorf("read frames: %w", readErr)
	case waitErr != nil:
		return frames, fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return frames, nil
}

// Stop terminates the running ffmpeg process.
func (f *FFmpegExtractor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// scanJPEG is a bufio.SplitFunc yielding concatenated JPEG images (SOI..EOI).
// Bytes before a start marker are discarded.
func scanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may begin the next marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil // truncated trailing frame
		}
		if len(data)-start > maxFrameSize {
			return 0, nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameSize)
		}
		return start, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// readJPEGFrames reads a stream of concatenated JPEG images and returns how
// many were delivered. Callback errors are logged and do not stop the stream.
func readJPEGFrames(r io.Reader, callback FrameCallback) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512*1024), maxFrameSize+len(jpegEOI))
	scanner.Split(scanJPEG)

	frames := 0
	for scanner.Scan() {
		frame := scanner.Bytes()
		frames++
		// The scanner reuses its buffer; callbacks get their own copy.
		if err := callback(bytes.Clone(frame)); err != nil {
			slog.Warn("frame callback error", "error", err)
		}
	}
	return frames, scanner.Err()
}
