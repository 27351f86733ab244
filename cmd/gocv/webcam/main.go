package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/controller"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/logging"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/nvr-ai/go-detect/render"
)

// overlay holds the latest detections for the preview window.
type overlay struct {
	mu   sync.Mutex
	dets []postprocess.Detection
}

func (o *overlay) OnDetections(dets []postprocess.Detection) {
	o.mu.Lock()
	o.dets = dets
	o.mu.Unlock()
}

func (o *overlay) current() []postprocess.Detection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dets
}

func main() {
	var (
		configPath string
		deviceID   int
		rotation   int
		showWindow bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML config file")
	flag.IntVar(&deviceID, "device", 0, "Video capture device")
	flag.IntVar(&rotation, "rotation", 0, "Clockwise sensor rotation (0, 90, 180, 270)")
	flag.BoolVar(&showWindow, "show-window", true, "Show the preview window")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, deviceID, rotation, showWindow); err != nil {
		logger.Error("live detection stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, deviceID, rotation int, showWindow bool) error {
	if !images.ValidRotation(rotation) {
		return errors.Errorf("rotation %d", rotation)
	}

	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return errors.Wrapf(err, "failed to open capture device %d", deviceID)
	}
	defer webcam.Close()

	engine := inference.NewONNXEngine(cfg.Runtime, cfg.Model, logger)
	defer engine.Close()

	popts := cfg.Profiler
	popts.Logger = logger
	rp := profiler.NewRuntimeProfiler(popts)

	pipeline, err := controller.NewPipeline(cfg.Model, engine, cfg.Pipeline,
		controller.WithLogger(logger),
		controller.WithProfiler(rp),
	)
	if err != nil {
		return err
	}

	boxes := &overlay{}
	mode := controller.NewLiveMode(pipeline, boxes, controller.Inline, cfg.Pipeline.View)
	session := controller.NewLiveSession(mode, logger)

	if cfg.ProfilerEnabled {
		rp.AddMetricsCollector(session)
		rp.Start()
		defer rp.Stop()
	}

	m := pipeline.Model()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		// Leaving the capture loop stops the worker too.
		defer cancel()
		logger.Info("reading camera", zap.Int("device", deviceID), zap.String("session_id", session.ID()))
		return capture(gctx, webcam, session, boxes, m.Label, rotation, showWindow, logger)
	})

	err = g.Wait()
	st := session.Stats()
	logger.Info("live session summary",
		zap.Uint64("submitted", st.Submitted),
		zap.Uint64("dropped", st.Dropped),
		zap.Uint64("analyzed", st.Analyzed),
		zap.Uint64("failed", st.Failed),
	)
	return err
}

// capture reads the camera, submits every frame and draws the latest boxes.
func capture(
	ctx context.Context,
	webcam *gocv.VideoCapture,
	session *controller.LiveSession,
	boxes *overlay,
	labels render.LabelFunc,
	rotation int,
	showWindow bool,
	logger *zap.Logger,
) error {
	var window *gocv.Window
	if showWindow {
		window = gocv.NewWindow("Detect")
		defer window.Close()
	}

	mat := gocv.NewMat()
	defer mat.Close()

	style := render.DefaultStyle()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}

	fps := 0.0
	frameCount := 0
	lastTime := time.Now()

	for ctx.Err() == nil {
		if ok := webcam.Read(&mat); !ok {
			return errors.New("cannot read capture device")
		}
		if mat.Empty() {
			continue
		}

		frameCount++
		if elapsed := time.Since(lastTime).Seconds(); elapsed >= 1.0 {
			fps = float64(frameCount) / elapsed
			frameCount = 0
			lastTime = time.Now()
		}

		img, err := mat.ToImage()
		if err != nil {
			logger.Warn("frame conversion failed", zap.Error(err))
			continue
		}
		frame := images.FromImage(img)
		frame.Rotation = rotation
		session.Submit(frame)

		if window == nil {
			continue
		}

		preview := mat
		if rotation != 0 {
			preview = gocv.NewMat()
			gocv.Rotate(mat, &preview, rotateFlag(rotation))
		}
		for _, d := range boxes.current() {
			r := d.Box.ToRectangle()
			gocv.Rectangle(&preview, r, style.BoxColor(d.ClassID), style.LineWidth)
			gocv.PutText(&preview, render.Caption(d, labels), image.Pt(r.Min.X, r.Min.Y-4),
				gocv.FontHersheyPlain, 1.2, white, 1)
		}
		gocv.PutText(&preview, fmt.Sprintf("FPS: %.1f", fps), image.Pt(10, 20), gocv.FontHersheyPlain, 1.2, white, 1)

		window.IMShow(preview)
		if rotation != 0 {
			preview.Close()
		}
		if window.WaitKey(1) == 27 {
			return nil
		}
	}
	return nil
}

func rotateFlag(degrees int) gocv.RotateFlag {
	switch degrees {
	case 90:
		return gocv.Rotate90Clockwise
	case 180:
		return gocv.Rotate180Clockwise
	}
	return gocv.Rotate90CounterClockwise
}
