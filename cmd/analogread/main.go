package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/NWU-FAE/analogRead-SEK/pkg/app"
	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/logging"
)

func main() {
	var (
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		portFlag     = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		mockFlag     = flag.Bool("mock", false, "Use simulated sensor bridge instead of serial port")
		headlessFlag = flag.Bool("headless", false, "Sample without GUI until interrupted")
		rateFlag     = flag.Float64("rate", 0, "Sampling rate in Hz (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *rateFlag > 0 {
		cfg.Sampling.RateHz = *rateFlag
	}

	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, log, *mockFlag)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	if *headlessFlag {
		err := engine.Run(ctx)
		if cerr := engine.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			log.Fatalf("Sampling failed: %v", err)
		}
		return
	}

	runGUI(engine, *configFlag)
	if err := engine.Close(); err != nil {
		log.WithError(err).Warn("shutdown finished with errors")
	}
}
