package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"douyindl/internal/errs"
)

// Runner executes a binary and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the binary with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", name, err)
	}

	return out, nil
}

// FFprobe asks ffprobe for the first video stream.
type FFprobe struct {
	bin func() string
	run Runner
}

// NewFFprobe creates a prober. bin is resolved lazily so a binary installed
// after startup is picked up.
func NewFFprobe(bin func() string, run Runner) *FFprobe {
	if run == nil {
		run = ExecRunner
	}

	return &FFprobe{bin: bin, run: run}
}

type ffprobeOutput struct {
	Streams []struct {
		Width    int               `json:"width"`
		Height   int               `json:"height"`
		Tags     map[string]string `json:"tags"`
		SideData []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// Dimensions implements Prober.
func (p *FFprobe) Dimensions(ctx context.Context, path string) (int, int, error) {
	bin := p.bin()
	if bin == "" {
		return 0, 0, fmt.Errorf("ffprobe: %w", errs.ErrBinaryNotFound)
	}

	raw, err := p.run(ctx, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, 0, err
	}

	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, 0, fmt.Errorf("decode ffprobe output: %w", err)
	}

	if len(out.Streams) == 0 || out.Streams[0].Width <= 0 || out.Streams[0].Height <= 0 {
		return 0, 0, errs.ErrNoVideoTrack
	}

	s := out.Streams[0]
	w, h := s.Width, s.Height

	rotation := 0
	if r, err := strconv.Atoi(s.Tags["rotate"]); err == nil {
		rotation = r
	}

	for _, sd := range s.SideData {
		if sd.Rotation != 0 {
			rotation = int(sd.Rotation)
		}
	}

	if rotation%180 != 0 {
		w, h = h, w
	}

	return w, h, nil
}
