// Package encoder wraps the external ffmpeg tool behind a small adapter.
// All encode, crossfade, motion-clip and concat/mux work happens here;
// failures are fatal to the stage that triggered them and are never
// classified as safety failures.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stillframe/memorialtube/internal/config"
	"github.com/stillframe/memorialtube/internal/imaging"
)

// FFmpeg invokes the ffmpeg binary through ffmpeg-go pipelines.
type FFmpeg struct {
	cfg    config.Config
	logger *zap.Logger
}

// New creates an encoder bound to the process configuration.
func New(cfg config.Config, logger *zap.Logger) *FFmpeg {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{cfg: cfg, logger: logger}
}

// bin points the pipeline at the configured ffmpeg binary.
func (e *FFmpeg) bin(cmd *ffmpeg.Stream) *ffmpeg.Stream {
	if e.cfg.FFmpegPath != "" {
		return cmd.SetFfmpegPath(e.cfg.FFmpegPath)
	}
	return cmd
}

// wrapRunError attaches captured ffmpeg stderr to a run failure.
func wrapRunError(err error, stderr *bytes.Buffer, what string) error {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return fmt.Errorf("encoder: %s failed: %w", what, err)
	}
	// Keep the tail: ffmpeg prints the actionable line last.
	if len(msg) > 1024 {
		msg = msg[len(msg)-1024:]
	}
	return fmt.Errorf("encoder: %s failed: %w: %s", what, err, msg)
}

func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("encoder: mkdir %s: %w", filepath.Dir(path), err)
	}
	return nil
}

// EncodeFrames streams raw RGB frames into ffmpeg over stdin and writes a
// video clip at the configured fps, pixel format and codec.
func (e *FFmpeg) EncodeFrames(ctx context.Context, frames []*imaging.Image, outputPath string) error {
	if len(frames) == 0 {
		return errors.New("encoder: no frames to encode")
	}
	if err := ensureParent(outputPath); err != nil {
		return err
	}
	w, h := frames[0].W, frames[0].H

	r, pw := io.Pipe()
	var stderr bytes.Buffer
	cmd := ffmpeg.Input("pipe:0", ffmpeg.KwArgs{
		"format":    "rawvideo",
		"pix_fmt":   "rgb24",
		"s":         fmt.Sprintf("%dx%d", w, h),
		"framerate": e.cfg.TargetFPS,
	}).
		Output(outputPath, ffmpeg.KwArgs{
			"r":       e.cfg.TargetFPS,
			"pix_fmt": e.cfg.OutputPixelFormat,
			"c:v":     e.cfg.OutputVideoCodec,
		}).
		OverWriteOutput().
		WithInput(r).
		WithErrorOutput(&stderr)
	cmd = e.bin(cmd)
	cmd.Context = ctx

	g := new(errgroup.Group)
	g.Go(func() error {
		defer r.Close()
		if err := cmd.Run(); err != nil {
			return wrapRunError(err, &stderr, "frame encode")
		}
		return nil
	})
	g.Go(func() error {
		defer pw.Close()
		for _, frame := range frames {
			if !frame.SameSize(frames[0]) {
				return fmt.Errorf("encoder: frame size mismatch: %dx%d vs %dx%d", frame.W, frame.H, w, h)
			}
			if _, err := pw.Write(frame.Pix); err != nil {
				// ffmpeg exiting early closes the pipe; its error carries
				// the real cause.
				if errors.Is(err, io.ErrClosedPipe) {
					return nil
				}
				return fmt.Errorf("encoder: stream frames: %w", err)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	e.logger.Debug("frames encoded",
		zap.Int("frames", len(frames)), zap.String("output", outputPath))
	return nil
}

// normalized applies the canvas scale/pad chain to an input stream.
func (e *FFmpeg) normalized(in *ffmpeg.Stream) *ffmpeg.Stream {
	size := fmt.Sprintf("%d", e.cfg.TargetWidth)
	return in.
		Filter("scale", ffmpeg.Args{size, fmt.Sprintf("%d", e.cfg.TargetHeight)}, ffmpeg.KwArgs{
			"force_original_aspect_ratio": "decrease",
		}).
		Filter("pad", ffmpeg.Args{
			fmt.Sprintf("%d", e.cfg.TargetWidth),
			fmt.Sprintf("%d", e.cfg.TargetHeight),
			"(ow-iw)/2",
			"(oh-ih)/2",
		}).
		Filter("format", ffmpeg.Args{e.cfg.OutputPixelFormat}).
		Filter("fps", ffmpeg.Args{fmt.Sprintf("%d", e.cfg.TargetFPS)})
}

// Crossfade builds a classical fade transition clip directly from two still
// images, with no frame-by-frame generation. This is the deterministic
// fallback for the transition generator.
func (e *FFmpeg) Crossfade(ctx context.Context, imageA, imageB, outputPath string, durationSeconds int) error {
	if err := ensureParent(outputPath); err != nil {
		return err
	}

	const fadeDuration = 1.0
	offset := float64(durationSeconds) - fadeDuration
	if offset < 0 {
		offset = 0
	}

	inA := ffmpeg.Input(imageA, ffmpeg.KwArgs{"loop": 1, "t": durationSeconds})
	inB := ffmpeg.Input(imageB, ffmpeg.KwArgs{"loop": 1, "t": durationSeconds})

	faded := ffmpeg.Filter(
		[]*ffmpeg.Stream{e.normalized(inA), e.normalized(inB)},
		"xfade", ffmpeg.Args{}, ffmpeg.KwArgs{
			"transition": "fade",
			"duration":   fadeDuration,
			"offset":     offset,
		}).
		Filter("format", ffmpeg.Args{e.cfg.OutputPixelFormat})

	var stderr bytes.Buffer
	cmd := faded.Output(outputPath, ffmpeg.KwArgs{
		"t":       durationSeconds,
		"r":       e.cfg.TargetFPS,
		"pix_fmt": e.cfg.OutputPixelFormat,
		"c:v":     e.cfg.OutputVideoCodec,
	}).
		OverWriteOutput().
		WithErrorOutput(&stderr)
	cmd = e.bin(cmd)
	cmd.Context = ctx

	if err := cmd.Run(); err != nil {
		return wrapRunError(err, &stderr, "classic crossfade")
	}
	return nil
}

// motionFilter returns the zoompan expression for a last-clip motion style.
func (e *FFmpeg) motionFilter(style string) (string, ffmpeg.Args, ffmpeg.KwArgs) {
	size := fmt.Sprintf("%dx%d", e.cfg.TargetWidth, e.cfg.TargetHeight)
	switch style {
	case "none":
		return "fps", ffmpeg.Args{fmt.Sprintf("%d", e.cfg.TargetFPS)}, nil
	case "zoom_out":
		return "zoompan", ffmpeg.Args{}, ffmpeg.KwArgs{
			"z":   "if(lte(on,1),1.08,max(1.0,zoom-0.0008))",
			"x":   "iw/2-(iw/zoom/2)",
			"y":   "ih/2-(ih/zoom/2)",
			"d":   1,
			"s":   size,
			"fps": e.cfg.TargetFPS,
		}
	default: // zoom_in
		return "zoompan", ffmpeg.Args{}, ffmpeg.KwArgs{
			"z":   "min(zoom+0.0008,1.08)",
			"x":   "iw/2-(iw/zoom/2)",
			"y":   "ih/2-(ih/zoom/2)",
			"d":   1,
			"s":   size,
			"fps": e.cfg.TargetFPS,
		}
	}
}

// LastClip renders the terminal clip from the final canvas with a slow
// zoom motion.
func (e *FFmpeg) LastClip(ctx context.Context, imagePath, outputPath string, durationSeconds int, motionStyle string) error {
	if err := ensureParent(outputPath); err != nil {
		return err
	}

	in := ffmpeg.Input(imagePath, ffmpeg.KwArgs{"loop": 1, "t": durationSeconds})
	stream := in.
		Filter("scale", ffmpeg.Args{
			fmt.Sprintf("%d", e.cfg.TargetWidth),
			fmt.Sprintf("%d", e.cfg.TargetHeight),
		}, ffmpeg.KwArgs{"force_original_aspect_ratio": "decrease"}).
		Filter("pad", ffmpeg.Args{
			fmt.Sprintf("%d", e.cfg.TargetWidth),
			fmt.Sprintf("%d", e.cfg.TargetHeight),
			"(ow-iw)/2",
			"(oh-ih)/2",
		})

	name, args, kwargs := e.motionFilter(motionStyle)
	if kwargs != nil {
		stream = stream.Filter(name, args, kwargs)
	} else {
		stream = stream.Filter(name, args)
	}
	stream = stream.Filter("format", ffmpeg.Args{e.cfg.OutputPixelFormat})

	var stderr bytes.Buffer
	cmd := stream.Output(outputPath, ffmpeg.KwArgs{
		"t":       durationSeconds,
		"r":       e.cfg.TargetFPS,
		"pix_fmt": e.cfg.OutputPixelFormat,
		"c:v":     e.cfg.OutputVideoCodec,
	}).
		OverWriteOutput().
		WithErrorOutput(&stderr)
	cmd = e.bin(cmd)
	cmd.Context = ctx

	if err := cmd.Run(); err != nil {
		return wrapRunError(err, &stderr, "last clip build")
	}
	return nil
}

// normalizeClip re-encodes a clip to the canvas geometry, fps and pixel
// format so the concat demuxer never sees mismatched streams.
func (e *FFmpeg) normalizeClip(ctx context.Context, inputPath, outputPath string) error {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,fps=%d,setsar=1,format=%s",
		e.cfg.TargetWidth, e.cfg.TargetHeight,
		e.cfg.TargetWidth, e.cfg.TargetHeight,
		e.cfg.TargetFPS, e.cfg.OutputPixelFormat,
	)
	var stderr bytes.Buffer
	cmd := ffmpeg.Input(inputPath).
		Output(outputPath, ffmpeg.KwArgs{
			"vf":      vf,
			"an":      "",
			"r":       e.cfg.TargetFPS,
			"pix_fmt": e.cfg.OutputPixelFormat,
			"c:v":     e.cfg.OutputVideoCodec,
		}).
		OverWriteOutput().
		WithErrorOutput(&stderr)
	cmd = e.bin(cmd)
	cmd.Context = ctx

	if err := cmd.Run(); err != nil {
		return wrapRunError(err, &stderr, "clip normalize")
	}
	return nil
}

// Concat normalizes every clip, concatenates them in order and, when a BGM
// path is given, loops it under the video at the requested volume.
func (e *FFmpeg) Concat(ctx context.Context, clipPaths []string, outputPath, bgmPath string, bgmVolume float64) error {
	if len(clipPaths) == 0 {
		return errors.New("encoder: no clips to concatenate")
	}
	for _, clip := range clipPaths {
		if _, err := os.Stat(clip); err != nil {
			return fmt.Errorf("encoder: clip not found: %s: %w", clip, err)
		}
	}
	if err := ensureParent(outputPath); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "render_concat_")
	if err != nil {
		return fmt.Errorf("encoder: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var list strings.Builder
	for i, clip := range clipPaths {
		normalized := filepath.Join(tmpDir, fmt.Sprintf("norm_%04d.mp4", i))
		if err := e.normalizeClip(ctx, clip, normalized); err != nil {
			return err
		}
		fmt.Fprintf(&list, "file '%s'\n", filepath.ToSlash(normalized))
	}
	listFile := filepath.Join(tmpDir, "clips.txt")
	if err := os.WriteFile(listFile, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("encoder: write concat list: %w", err)
	}

	video := ffmpeg.Input(listFile, ffmpeg.KwArgs{"f": "concat", "safe": "0"})

	var stderr bytes.Buffer
	var cmd *ffmpeg.Stream
	if bgmPath != "" {
		if _, err := os.Stat(bgmPath); err != nil {
			return fmt.Errorf("encoder: bgm not found: %s: %w", bgmPath, err)
		}
		audio := ffmpeg.Input(bgmPath, ffmpeg.KwArgs{"stream_loop": -1}).
			Audio().
			Filter("volume", ffmpeg.Args{fmt.Sprintf("%g", bgmVolume)})
		cmd = ffmpeg.Output([]*ffmpeg.Stream{video.Video(), audio}, outputPath, ffmpeg.KwArgs{
			"shortest": "",
			"r":        e.cfg.TargetFPS,
			"pix_fmt":  e.cfg.OutputPixelFormat,
			"c:v":      e.cfg.OutputVideoCodec,
			"c:a":      "aac",
		})
	} else {
		cmd = video.Video().Output(outputPath, ffmpeg.KwArgs{
			"r":       e.cfg.TargetFPS,
			"pix_fmt": e.cfg.OutputPixelFormat,
			"c:v":     e.cfg.OutputVideoCodec,
		})
	}
	cmd = e.bin(cmd.OverWriteOutput().WithErrorOutput(&stderr))
	cmd.Context = ctx

	if err := cmd.Run(); err != nil {
		return wrapRunError(err, &stderr, "final concat")
	}

	e.logger.Info("final render complete",
		zap.Int("clips", len(clipPaths)),
		zap.Bool("bgm", bgmPath != ""),
		zap.String("output", outputPath))
	return nil
}
