package cli

import (
	"context"
	"io"

	"backplate/internal/compute"
	"backplate/internal/compute/cpu"
	"backplate/internal/config"
	"backplate/internal/logger"
	"backplate/internal/pipeline"
	"backplate/internal/shutdown"
	"backplate/internal/timing"
	"backplate/internal/video"
)

func newLogger(cfg *config.Config, stderr io.Writer) logger.Logger {
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.LogPretty {
		return logger.NewConsoleLogger(level)
	}
	return logger.NewZerolog(stderr, level)
}

// platforms lists the compute platforms selectable with --platform.
func platforms(cfg *config.Config) []compute.Platform {
	return []compute.Platform{cpu.NewPlatform(cfg.Workers)}
}

func run(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	log := newLogger(cfg, stderr)

	mgr := shutdown.NewManager(ctx, log)
	mgr.Listen()
	defer mgr.Shutdown()

	session, err := compute.Acquire(platforms(cfg), compute.Selector{Platform: cfg.Platform, Device: cfg.Device}, timing.NewTracker(), log)
	if err != nil {
		return err
	}
	mgr.Register(session)

	source, err := video.Open(cfg.Input, log)
	if err != nil {
		return err
	}
	mgr.Register(source)

	sinks, err := openSinks(cfg, source, mgr.Cancel, log)
	if err != nil {
		return err
	}

	driver, err := pipeline.NewDriver(session, source, sinks, pipeline.Options{
		Background: cfg.Background,
		Deflicker:  cfg.Deflicker,
		Weight:     cfg.Weight,
		Threshold:  cfg.Threshold,
		JoinWeight: cfg.JoinWeight,
	}, log)
	if err != nil {
		closeAll(sinks)
		return err
	}

	_, err = driver.Run(mgr.Context())
	return err
}

func openSinks(cfg *config.Config, source *video.Capture, cancel context.CancelFunc, log logger.Logger) ([]pipeline.Sink, error) {
	var sinks []pipeline.Sink

	if cfg.Output != "" {
		sinks = append(sinks, video.NewImageSink(cfg.Output, log))
	}
	if cfg.VideoOutput != "" {
		vs, err := video.NewVideoSink(cfg.VideoOutput, cfg.Codec, source.FrameRate(), source.Width(), source.Height(), log)
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, vs)
	}
	if cfg.Preview() {
		sinks = append(sinks, video.NewPreviewSink(previewTitle(cfg), cfg.SideBySide, cancel))
	}
	return sinks, nil
}

func previewTitle(cfg *config.Config) string {
	if cfg.Tool == config.Deflicker {
		return "deflickered"
	}
	return "background"
}

func closeAll(sinks []pipeline.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}
