// Command broute-exporter serves Prometheus metrics scraped from a
// Japanese B-route smart electricity meter over a serial-attached Wi-SUN
// modem.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/brouteexp/broute-exporter/internal/config"
	"github.com/brouteexp/broute-exporter/internal/core"
	"github.com/brouteexp/broute-exporter/internal/exporter"
	"github.com/brouteexp/broute-exporter/internal/lineport"
	"github.com/brouteexp/broute-exporter/internal/modem"
	"github.com/brouteexp/broute-exporter/internal/session"
)

// shutdownGrace bounds how long an in-flight scrape is given to finish
// when the process receives a termination signal.
const shutdownGrace = 5 * time.Second

func main() {
	log := logrus.New()

	app := &cli.App{
		Name:  "broute-exporter",
		Usage: "Prometheus exporter for B-route smart electricity meters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "broute.toml",
				Usage: "path to the TOML configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "panic, fatal, error, warn, info, debug, or trace",
			},
		},
		Action: func(ctx *cli.Context) error {
			return serve(ctx, log)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx *cli.Context, log *logrus.Logger) error {
	level, err := logrus.ParseLevel(ctx.String("log-level"))
	if err != nil {
		return fmt.Errorf("broute-exporter: %w", err)
	}
	log.SetLevel(level)

	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("broute-exporter: loading config: %w", err)
	}

	port, err := lineport.OpenSerial(cfg.SerialDevicePath, cfg.Baud)
	if err != nil {
		return fmt.Errorf("broute-exporter: opening %s: %w", cfg.SerialDevicePath, err)
	}
	defer port.Close()

	driver := modem.NewDriver(port, log)
	mgr := session.NewManager(driver, log)

	var creds *session.Credentials
	if cfg.Credentials != nil {
		creds = &session.Credentials{
			RouteBID: cfg.Credentials.RouteBID,
			Password: cfg.Credentials.Password,
		}
	}

	targetObject, err := config.ParseEoj(cfg.TargetObject)
	if err != nil {
		return fmt.Errorf("broute-exporter: %w", err)
	}

	measures, err := buildMeasures(cfg.Measures)
	if err != nil {
		return fmt.Errorf("broute-exporter: %w", err)
	}

	c := core.New(mgr, creds, cfg.ScanChannelMask, cfg.ScanDuration, targetObject, measures, cfg.RecvTimeoutMs, log)
	handler := exporter.NewHandler(c, measures, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: mux,
	}
	srv.RegisterOnShutdown(func() {
		if err := c.Close(); err != nil {
			log.WithField("event", "shutdown_close_failed").Warnf("broute-exporter: session close: %v", err)
		}
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		log.Info("broute-exporter: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithField("event", "shutdown_failed").Errorf("broute-exporter: shutdown: %v", err)
		}
	}()

	log.WithField("event", "listening").Infof("broute-exporter: serving /metrics on %s", cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("broute-exporter: %w", err)
	}
	return nil
}

func buildMeasures(configured []config.Measure) ([]core.Measure, error) {
	measures := make([]core.Measure, 0, len(configured))
	for _, m := range configured {
		epc, err := config.ParseEpc(m.Epc)
		if err != nil {
			return nil, err
		}
		layout, err := config.ParseLayout(m.Layout)
		if err != nil {
			return nil, err
		}
		measures = append(measures, core.Measure{
			Name:   m.Name,
			Help:   m.Help,
			Epc:    epc,
			Layout: layout,
		})
	}
	return measures, nil
}
