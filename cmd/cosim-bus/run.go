package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cosim-bus/cosim-go/pkg/bus"
	"github.com/cosim-bus/cosim-go/pkg/config"
	"github.com/cosim-bus/cosim-go/pkg/discovery"
	"github.com/cosim-bus/cosim-go/pkg/guest"
	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/version"
)

// run hosts the guest until ctx ends or a device shuts it down.
func run(ctx context.Context, f *config.File, logger *slog.Logger) error {
	cfg, err := f.BusConfig()
	if err != nil {
		return err
	}

	capture, closeCapture, err := openCapture(f, logger)
	if err != nil {
		return err
	}
	defer closeCapture()

	if cfg.IRQCount == 0 {
		cfg.IRQCount = bus.DefaultConfig().IRQCount
	}
	board := guest.NewBoard(f.Guest.RAMBase, f.Guest.RAMSize, cfg.IRQCount)
	board.PIC.OnChange = func(line uint32, level bool) {
		logger.Debug("irq", "line", line, "level", level)
	}

	cfg.Logger = logger
	cfg.ProtocolLogger = capture
	b, err := bus.New(cfg, board.Host())
	if err != nil {
		return err
	}
	b.Start()
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("closing bus", "error", err)
		}
	}()

	if err := b.Listen(ctx); err != nil {
		return err
	}
	if f.Advertise {
		adv := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
		defer adv.StopAll()
		names, err := discovery.Publish(ctx, adv, b.Endpoints(), version.FromWire(cfg.BusVersion).String())
		if err != nil {
			return err
		}
		logger.Info("advertising attach points", "names", names)
	}

	if err := b.Attach(ctx); err != nil {
		return err
	}
	logger.Info("guest running",
		"devices", b.Registry().Len(),
		"ram", board.Memory.RAM().String(),
		"rate", f.Clock.Rate)

	clockCtx, stopClock := context.WithCancel(ctx)
	defer stopClock()
	go board.Clock.Run(clockCtx, f.Clock.Tick, f.Clock.Rate)

	select {
	case <-ctx.Done():
		logger.Info("stopping", "reason", context.Cause(ctx))
	case <-board.Machine.Done():
		logger.Info("guest shut down by device", "time_ns", board.Clock.Now())
	}
	return nil
}

// openCapture builds the protocol logger: a CBOR file when configured and
// the console at debug level.
func openCapture(f *config.File, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if f.ProtocolLog != "" {
		fl, err := log.NewFileLogger(f.ProtocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() {
			if err := fl.Close(); err != nil {
				logger.Warn("closing protocol log", "error", err)
			}
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol log dropped events", "count", n)
			}
		}
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return log.NewMultiLogger(loggers...), closeFn, nil
	}
}
