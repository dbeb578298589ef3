package clip

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ffmpegEncode pipes the JPEG frames through ffmpeg's image2pipe
// demuxer into an MP4 temp file. The drawtext overlay renders each
// frame's wall-clock time derived from the window's first capture.
func (a *Assembler) ffmpegEncode(ctx context.Context, frames [][]byte, fps, scale float64, codec string, overlayEpoch int64) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "sentinel-clip-*")
	if err != nil {
		return nil, fmt.Errorf("clip temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	outPath := filepath.Join(tmpDir, "clip.mp4")

	// Even dimensions are required by yuv420p.
	vf := fmt.Sprintf(
		"scale=trunc(iw*%g/2)*2:trunc(ih*%g/2)*2,drawtext=text='%%{pts\\:localtime\\:%d}':x=8:y=h-28:fontsize=18:fontcolor=white:box=1:boxcolor=black@0.5",
		scale, scale, overlayEpoch,
	)

	args := []string{
		"-y",
		"-f", "image2pipe",
		"-framerate", fmt.Sprintf("%g", fps),
		"-i", "pipe:0",
		"-vf", vf,
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	}

	var stdin bytes.Buffer
	for _, f := range frames {
		stdin.Write(f)
	}

	cmd := exec.CommandContext(ctx, a.cfg.FFmpegPath, args...)
	cmd.Stdin = &stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %v (%s)", codec, err, lastLine(stderr.Bytes()))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	return data, nil
}

// Compress re-encodes an existing MP4 under the same budget loop,
// for clips submitted by clients rather than assembled from a ring.
func (a *Assembler) Compress(ctx context.Context, mp4 []byte) (*Result, error) {
	if len(mp4) == 0 {
		return nil, ErrNoFrames
	}
	if int64(len(mp4)) <= a.cfg.MaxBytes {
		return &Result{Data: mp4, FPS: a.cfg.TargetFPS, Scale: 1.0}, nil
	}

	tmpDir, err := os.MkdirTemp("", "sentinel-compress-*")
	if err != nil {
		return nil, fmt.Errorf("compress temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "in.mp4")
	if err := os.WriteFile(inPath, mp4, 0600); err != nil {
		return nil, fmt.Errorf("write input clip: %w", err)
	}

	for _, step := range budgetSteps[1:] {
		fps := a.cfg.TargetFPS * step
		if fps < minFPS {
			fps = minFPS
		}

		outPath := filepath.Join(tmpDir, fmt.Sprintf("out-%g.mp4", step))
		codec := a.codec
		if codec == "" {
			codec = codecPreference[0]
		}
		args := []string{
			"-y",
			"-i", inPath,
			"-vf", fmt.Sprintf("scale=trunc(iw*%g/2)*2:trunc(ih*%g/2)*2", step, step),
			"-r", fmt.Sprintf("%g", fps),
			"-c:v", codec,
			"-pix_fmt", "yuv420p",
			"-movflags", "+faststart",
			outPath,
		}
		cmd := exec.CommandContext(ctx, a.cfg.FFmpegPath, args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("ffmpeg compress: %v (%s)", err, lastLine(stderr.Bytes()))
		}

		data, err := os.ReadFile(outPath)
		if err != nil {
			return nil, fmt.Errorf("read compressed clip: %w", err)
		}
		if int64(len(data)) <= a.cfg.MaxBytes || step == budgetSteps[len(budgetSteps)-1] {
			return &Result{
				Data:       data,
				FPS:        fps,
				Scale:      step,
				Codec:      codec,
				OverBudget: int64(len(data)) > a.cfg.MaxBytes,
			}, nil
		}
	}
	return nil, ErrNoEncoder
}

func lastLine(b []byte) string {
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}
