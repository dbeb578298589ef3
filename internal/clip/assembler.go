// Package clip turns a window of JPEG frames into one MP4 evidence
// clip. Encoding shells out to ffmpeg; the budget loop re-encodes at
// stepped-down frame rate and resolution until the clip fits the
// upload threshold.
package clip

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/technosupport/ts-sentinel/internal/ring"
)

var (
	ErrNoFrames  = errors.New("no frames to assemble")
	ErrNoEncoder = errors.New("no usable video encoder")
)

// Codec preference order. The first one ffmpeg accepts wins and is
// remembered for the rest of the process.
var codecPreference = []string{"libx264", "libopenh264", "mpeg4"}

// Scale steps applied to both fps and resolution when the clip is over
// budget. Floors: 10 fps, 0.6x resolution.
var budgetSteps = []float64{1.0, 0.9, 0.8, 0.7, 0.6}

const minFPS = 10.0

type Config struct {
	TargetFPS  float64
	MaxBytes   int64
	FFmpegPath string
}

func DefaultConfig() Config {
	return Config{
		TargetFPS:  25,
		MaxBytes:   20 * 1024 * 1024,
		FFmpegPath: "ffmpeg",
	}
}

// Result is one assembled clip. OverBudget means the floor was reached
// with the clip still over MaxBytes; the publisher decides whether to
// accept it.
type Result struct {
	Data       []byte
	Duration   time.Duration
	FPS        float64
	Scale      float64
	Codec      string
	OverBudget bool
}

// encodeFunc runs one encode pass. Swapped out in tests.
type encodeFunc func(ctx context.Context, frames [][]byte, fps, scale float64, codec string, overlayEpoch int64) ([]byte, error)

type Assembler struct {
	cfg    Config
	encode encodeFunc
	codec  string // resolved on first successful encode
}

func NewAssembler(cfg Config) *Assembler {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 25
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 * 1024 * 1024
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	a := &Assembler{cfg: cfg}
	a.encode = a.ffmpegEncode
	return a
}

// Assemble encodes the window into an MP4 under the size budget, with
// a timestamp overlay seeded from the first frame's capture time.
func (a *Assembler) Assemble(ctx context.Context, window []ring.Frame) (*Result, error) {
	if len(window) == 0 {
		return nil, ErrNoFrames
	}

	payloads := make([][]byte, len(window))
	for i, f := range window {
		payloads[i] = f.Payload
	}
	epoch := window[0].CapturedAt.Unix()
	duration := window[len(window)-1].CapturedAt.Sub(window[0].CapturedAt)

	for _, step := range budgetSteps {
		fps := a.cfg.TargetFPS * step
		if fps < minFPS {
			fps = minFPS
		}

		data, err := a.encodePass(ctx, payloads, fps, step, epoch)
		if err != nil {
			return nil, err
		}

		res := &Result{
			Data:     data,
			Duration: duration,
			FPS:      fps,
			Scale:    step,
			Codec:    a.codec,
		}
		if int64(len(data)) <= a.cfg.MaxBytes {
			return res, nil
		}
		if step == budgetSteps[len(budgetSteps)-1] {
			log.Printf("[WARN] Clip still %d bytes over budget at floor (%.0f fps, %.1fx)", int64(len(data))-a.cfg.MaxBytes, fps, step)
			res.OverBudget = true
			return res, nil
		}
		log.Printf("[Clip] %d bytes over budget at %.1fx, stepping down", int64(len(data))-a.cfg.MaxBytes, step)
	}
	return nil, ErrNoEncoder // unreachable: the loop always returns
}

// encodePass tries the resolved codec, or walks the preference list
// until one encoder works.
func (a *Assembler) encodePass(ctx context.Context, frames [][]byte, fps, scale float64, epoch int64) ([]byte, error) {
	if a.codec != "" {
		return a.encode(ctx, frames, fps, scale, a.codec, epoch)
	}

	var lastErr error
	for _, codec := range codecPreference {
		data, err := a.encode(ctx, frames, fps, scale, codec, epoch)
		if err == nil {
			a.codec = codec
			return data, nil
		}
		lastErr = err
		log.Printf("[WARN] Clip encoder %s unavailable: %v", codec, err)
	}
	return nil, fmt.Errorf("%w: %v", ErrNoEncoder, lastErr)
}
