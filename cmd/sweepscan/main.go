// Command sweepscan builds a live 3-D point cloud from an RPLidar range
// scanner swept through space, optionally keyed by a serial position feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/sweepscan/internal/config"
	"github.com/banshee-data/sweepscan/internal/fusion"
	"github.com/banshee-data/sweepscan/internal/monitoring"
	"github.com/banshee-data/sweepscan/internal/position"
	"github.com/banshee-data/sweepscan/internal/rangescan"
	"github.com/banshee-data/sweepscan/internal/rplidar"
	"github.com/banshee-data/sweepscan/internal/serialmux"
	"github.com/banshee-data/sweepscan/internal/version"
	"github.com/banshee-data/sweepscan/internal/viewer"
)

var (
	configPath   = flag.String("config", "", "Path to a .json, .yaml or .yml config file")
	rangePort    = flag.String("range-port", "", "Range scanner serial port (overrides config)")
	positionPort = flag.String("position-port", "", "Position feed serial port; empty runs without a feed")
	listen       = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen   = flag.String("grpc-listen", "", "gRPC health listen address; empty disables it")
	mqttBroker   = flag.String("mqtt-broker", "", "MQTT broker URL; empty disables publishing")
	startMode    = flag.String("mode", "", "Start mode: continuous or manual")
	sweepStep    = flag.Float64("step", 0, "Fixed sweep step used without a position feed")
	legacy       = flag.Bool("legacy-accumulate", false, "Append manual commits to one running buffer")
	diag         = flag.Bool("diag", false, "Log per-scan and per-line diagnostics")
	noStdin      = flag.Bool("no-stdin", false, "Do not read commands from standard input")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// applyFlags copies the flags named in set over cfg. Flags left at their
// zero value on the command line never override the file.
func applyFlags(cfg *config.Config, set map[string]bool) {
	if set["range-port"] {
		cfg.RangePort = rangePort
	}
	if set["position-port"] {
		cfg.PositionPort = positionPort
	}
	if set["listen"] {
		cfg.Listen = listen
	}
	if set["grpc-listen"] {
		cfg.GRPCListen = grpcListen
	}
	if set["mqtt-broker"] {
		cfg.MQTTBroker = mqttBroker
	}
	if set["mode"] {
		cfg.StartMode = startMode
	}
	if set["step"] {
		cfg.SweepStep = sweepStep
	}
	if set["legacy-accumulate"] {
		cfg.LegacyAccumulate = legacy
	}
}

func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlags(cfg, set)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDiagnostics(*diag)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("sweepscan: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	scanType, err := rplidar.ParseScanType(cfg.GetScanType())
	if err != nil {
		return err
	}
	mode, err := fusion.ParseMode(cfg.GetStartMode())
	if err != nil {
		return err
	}

	dev := rplidar.New(rplidar.Config{
		Path:       cfg.GetRangePort(),
		Port:       serialmux.PortOptions{BaudRate: cfg.GetRangeBaudRate()},
		MotorPWM:   cfg.GetMotorPWM(),
		ScanType:   scanType,
		MinScanLen: cfg.GetMinScanLen(),
	})
	scans := rangescan.NewSource(rangescan.NewRPLidar(dev), rangescan.Config{
		Port:        cfg.GetRangePort(),
		SettleDelay: cfg.GetSettleDelay(),
	})

	sources := []string{fusion.SourceRange}
	if cfg.HasPositionFeed() {
		sources = append(sources, fusion.SourcePosition)
	}
	health := newHealthService(sources...)
	defer health.stop()
	if addr := cfg.GetGRPCListen(); addr != "" {
		if err := health.start(addr); err != nil {
			return err
		}
	}

	httpViewer := viewer.NewHTTPViewer()
	viewers := viewer.Multi{httpViewer}

	var ctrl *fusion.Controller
	var mqttViewer *viewer.MQTTViewer
	var mqttClient mqtt.Client
	if broker := cfg.GetMQTTBroker(); broker != "" {
		// onConnect only fires after Connect below, once ctrl is set.
		mqttClient = viewer.NewMQTTClient(broker, cfg.GetMQTTClientID(), func() {
			if err := mqttViewer.Subscribe(ctrl); err != nil {
				monitoring.Logf("mqtt: %v", err)
			}
		})
		mqttViewer = viewer.NewMQTTViewer(mqttClient, cfg.GetMQTTTopicPrefix())
		viewers = append(viewers, mqttViewer)
	}

	// The feed opens its port inside Run, so a missing port only stops the
	// position source.
	var positions fusion.PositionSource
	var feed *position.Feed
	if cfg.HasPositionFeed() {
		feed = position.New(serialmux.RealPortOpener, cfg.GetPositionReadTimeout())
		if err := feed.Connect(cfg.GetPositionPort(), cfg.GetPositionBaudRate()); err != nil {
			return err
		}
		positions = feed
	}

	ctrl = fusion.New(fusion.Config{
		Step:             cfg.GetSweepStep(),
		LegacyAccumulate: cfg.GetLegacyAccumulate(),
		StartMode:        mode,
		QueueSize:        cfg.GetQueueSize(),
		OnSourceStopped:  health.sourceStopped,
	}, viewers, scans, positions)

	mux := http.NewServeMux()
	httpViewer.AttachRoutes(mux, ctrl)
	server := &http.Server{Addr: cfg.GetListen(), Handler: mux}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if feed != nil {
		go attachFeedRoutes(runCtx, feed, mux)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP viewer listening on %s", cfg.GetListen())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	if mqttClient != nil {
		mqttClient.Connect()
		defer mqttClient.Disconnect(250)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttViewer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("mqtt publisher error: %v", err)
			}
		}()
	}

	if !*noStdin {
		// Not waited for: a read on stdin cannot be interrupted.
		go func() {
			if err := viewer.ReadCommands(os.Stdin, ctrl); err != nil {
				log.Printf("stdin command reader: %v", err)
			}
		}()
		log.Printf("enter advances, r resets, t toggles %s/%s",
			fusion.ModeContinuous, fusion.ModeManual)
	}

	runErr := ctrl.Run(runCtx)
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	wg.Wait()
	return runErr
}

// attachFeedRoutes adds the serial debug routes once the feed's port is
// open. A feed that never opens gets no routes.
func attachFeedRoutes(ctx context.Context, feed *position.Feed, mux *http.ServeMux) {
	select {
	case <-feed.Ready():
		feed.Mux().AttachAdminRoutes(mux)
	case <-ctx.Done():
	}
}
