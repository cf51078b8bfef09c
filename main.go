// Package main provides the entry point for the autopatch command: it
// assembles a rig, calibrates the stage and the manipulator, optionally scans
// a mosaic, patches the configured targets and saves a project file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"autopatch/internal/config"
	"autopatch/internal/rig"
	"autopatch/internal/version"
	"autopatch/internal/vision"
	"autopatch/internal/vision/cv"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (defaults when empty)")
	debug := flag.Bool("debug", false, "Development logging at debug level")
	matcherName := flag.String("matcher", "sim", "Vision matcher: sim or cv")
	mosaicPath := flag.String("mosaic", "", "Write a stage mosaic to this file (.png, .jpg, .tiff)")
	mosaicW := flag.Int("mosaic-width", 0, "Mosaic width in pixels (default: 3 frames)")
	mosaicH := flag.Int("mosaic-height", 0, "Mosaic height in pixels (default: 3 frames)")
	projectPath := flag.String("project", "", "Project file to load calibrations from and save to")
	doPatch := flag.Bool("patch", false, "Patch the configured targets")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("autopatch"))
		return
	}

	log, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, options{
		configPath:  *configPath,
		matcher:     *matcherName,
		mosaicPath:  *mosaicPath,
		mosaicW:     *mosaicW,
		mosaicH:     *mosaicH,
		projectPath: *projectPath,
		patch:       *doPatch,
	}); err != nil {
		log.Error("autopatch failed", zap.Error(err))
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	matcher     string
	mosaicPath  string
	mosaicW     int
	mosaicH     int
	projectPath string
	patch       bool
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, log *zap.Logger, opts options) error {
	log.Info("starting", zap.String("version", version.String("autopatch")))

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}

	var matcher vision.Matcher
	switch opts.matcher {
	case "sim":
	case "cv":
		matcher = cv.New(cv.DefaultOptions())
	default:
		return fmt.Errorf("unknown matcher %q", opts.matcher)
	}

	r, err := rig.NewSimulated(cfg, log, rig.Options{Matcher: matcher})
	if err != nil {
		return err
	}
	r.On(rig.EventCalibrated, func(data interface{}) {
		log.Info("calibrated", zap.Any("device", data))
	})

	if opts.projectPath != "" {
		err := r.LoadProject(opts.projectPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Info("new project", zap.String("path", opts.projectPath))
		case err != nil:
			return err
		}
	}

	if !r.Unit.Calibrated() || !r.Stage.Calibrated() {
		if err := r.Calibrate(ctx); err != nil {
			return err
		}
	}

	if opts.mosaicPath != "" {
		w, h := opts.mosaicW, opts.mosaicH
		if w <= 0 {
			w = 3 * r.Camera.Width()
		}
		if h <= 0 {
			h = 3 * r.Camera.Height()
		}
		if err := r.Mosaic(ctx, w, h, opts.mosaicPath); err != nil {
			return err
		}
		log.Info("mosaic written", zap.String("path", opts.mosaicPath), zap.Int("width", w), zap.Int("height", h))
	}

	var patchErr error
	if opts.patch {
		results, err := r.PatchAll(ctx)
		for _, res := range results {
			if res.Err != nil {
				log.Warn("target failed", zap.Int("index", res.Index), zap.Stringer("target", res.Target), zap.Error(res.Err))
			} else {
				log.Info("target patched", zap.Int("index", res.Index), zap.Stringer("session", res.Session))
			}
		}
		patchErr = err
	}

	if opts.projectPath != "" {
		if err := r.SaveProject(opts.projectPath); err != nil {
			return errors.Join(patchErr, err)
		}
	}
	return patchErr
}
