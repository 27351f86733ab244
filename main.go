package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/controller"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/logging"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/nvr-ai/go-detect/render"
	"github.com/nvr-ai/go-detect/util"
)

const (
	// DefaultOutputDir is where annotated images are written.
	DefaultOutputDir = "detections"
)

func main() {
	var (
		configPath string
		modelPath  string
		imagePath  string
		dir        string
		outputDir  string
		rotation   int
		confidence float64
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML config file")
	flag.StringVar(&modelPath, "model", "", "Path to the ONNX model, overrides the config")
	flag.StringVar(&imagePath, "image", "", "Path to an image file (.jpg, .jpeg, .png, .webp)")
	flag.StringVar(&dir, "dir", "", "Directory of sample images, processed in name order")
	flag.StringVar(&outputDir, "out", DefaultOutputDir, "Output directory for annotated images")
	flag.IntVar(&rotation, "rotation", 0, "Clockwise rotation applied before detection (0, 90, 180, 270)")
	flag.Float64Var(&confidence, "confidence", 0, "Confidence threshold, overrides the config")
	flag.Parse()

	if (imagePath == "") == (dir == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -image or -dir is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if modelPath != "" {
		cfg.Model.Path = modelPath
	}
	if confidence > 0 {
		cfg.Model.ConfidenceThreshold = float32(confidence)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, runOptions{
		imagePath: imagePath,
		dir:       dir,
		outputDir: outputDir,
		rotation:  rotation,
	}); err != nil {
		logger.Error("still detection failed", zap.Error(err))
		os.Exit(1)
	}
}

type runOptions struct {
	imagePath string
	dir       string
	outputDir string
	rotation  int
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// run detects on every requested image and writes one annotated PNG per input.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts runOptions) error {
	if !images.ValidRotation(opts.rotation) {
		return errors.Errorf("rotation %d", opts.rotation)
	}

	var files []util.ImageFile
	if opts.imagePath != "" {
		f, err := util.LoadImageFile(opts.imagePath)
		if err != nil {
			return err
		}
		files = []util.ImageFile{f}
	} else {
		var err error
		if files, err = util.LoadDirectoryImageFiles(opts.dir); err != nil {
			return err
		}
	}
	samples, err := util.NewCycler(files)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	engine := inference.NewONNXEngine(cfg.Runtime, cfg.Model, logger)
	defer engine.Close()

	var rp *profiler.RuntimeProfiler
	if cfg.ProfilerEnabled {
		popts := cfg.Profiler
		popts.Logger = logger
		rp = profiler.NewRuntimeProfiler(popts)
		rp.Start()
		defer rp.Stop()
	}

	pipeline, err := controller.NewPipeline(cfg.Model, engine, cfg.Pipeline,
		controller.WithLogger(logger),
		controller.WithProfiler(rp),
	)
	if err != nil {
		return err
	}

	m := pipeline.Model()
	fileSink := &render.FileSink{Labels: m.Label, Style: render.DefaultStyle(), Logger: logger}
	logSink := render.LogSink{Logger: logger, Labels: m.Label}
	sink := controller.ResultSinkFunc(func(dets []postprocess.Detection) {
		logSink.OnDetections(dets)
		fileSink.OnDetections(dets)
	})

	session := controller.NewStillSession(controller.NewStillMode(pipeline, sink, nil, postprocess.View{}), logger)

	for i := 0; i < samples.Len(); i++ {
		if ctx.Err() != nil {
			return nil
		}

		sample := samples.Next()
		out := filepath.Join(opts.outputDir, strings.TrimSuffix(filepath.Base(sample.Path), filepath.Ext(sample.Path))+".png")

		err := detectFile(ctx, session, fileSink, sample, out, opts.rotation, logger)
		switch {
		case err == nil:
		case errors.Is(err, inference.ErrModelLoad):
			return err
		default:
			logger.Warn("image skipped", zap.String("path", sample.Path), zap.Error(err))
		}
	}

	return nil
}

// detectFile runs one still detection and waits for it to finish.
func detectFile(
	ctx context.Context,
	session *controller.StillSession,
	sink *render.FileSink,
	sample util.ImageFile,
	out string,
	rotation int,
	logger *zap.Logger,
) error {
	encoded, err := sample.Image()
	if err != nil {
		return err
	}
	img, err := encoded.Decode()
	if err != nil {
		return err
	}

	upright, err := images.Rotate(img, rotation)
	if err != nil {
		return err
	}
	sink.Target(upright, out)

	frame := images.FromImage(img)
	frame.Rotation = rotation

	var (
		result controller.Result
		runErr error
	)
	if err := session.Trigger(ctx, frame, func(r controller.Result, err error) {
		result, runErr = r, err
	}); err != nil {
		return err
	}
	session.Wait()

	if runErr != nil {
		return runErr
	}
	if err := sink.Err(); err != nil {
		return err
	}

	logger.Info("image processed",
		zap.String("path", sample.Path),
		zap.String("output", out),
		zap.Int("width", encoded.Width),
		zap.Int("height", encoded.Height),
		zap.Int("detections", len(result.Detections)),
		zap.Duration("elapsed", result.Elapsed),
	)
	return nil
}
