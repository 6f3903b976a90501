package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/trv-controller/db"
	"github.com/thatsimonsguy/trv-controller/internal/api"
	"github.com/thatsimonsguy/trv-controller/internal/config"
	"github.com/thatsimonsguy/trv-controller/internal/controllers/telemetrycontroller"
	"github.com/thatsimonsguy/trv-controller/internal/controllers/valvecontroller"
	"github.com/thatsimonsguy/trv-controller/internal/datadog"
	"github.com/thatsimonsguy/trv-controller/internal/env"
	"github.com/thatsimonsguy/trv-controller/internal/gpio"
	"github.com/thatsimonsguy/trv-controller/internal/logging"
	"github.com/thatsimonsguy/trv-controller/internal/motor"
	"github.com/thatsimonsguy/trv-controller/internal/notifications"
	"github.com/thatsimonsguy/trv-controller/internal/radio"
	"github.com/thatsimonsguy/trv-controller/internal/secureframe"
	"github.com/thatsimonsguy/trv-controller/internal/valve"
	"github.com/thatsimonsguy/trv-controller/system/shutdown"
	"github.com/thatsimonsguy/trv-controller/system/startup"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel)

	log.Info().
		Str("db_file", cfg.DatabaseFile).
		Str("serial_device", cfg.SerialDevice).
		Msg("Starting TRV controller")

	gpio.SetSafeMode(cfg.SafeMode)
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED — GPIO writes are disabled system-wide")
	}

	notifications.Init()
	if cfg.EnableDatadog {
		datadog.InitMetrics()
	}

	db.InitConfig(&cfg)
	if err := db.SeedDatabase(cfg.DatabaseFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed database")
	}
	dbConn, err := db.Open(cfg.DatabaseFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer dbConn.Close()

	if !cfg.SafeMode {
		if err := startup.WriteStartupScript(); err != nil {
			log.Fatal().Err(err).Msg("Failed to write GPIO startup script")
		}
		if err := startup.InstallStartupService(); err != nil {
			log.Fatal().Err(err).Msg("Failed to install GPIO startup service")
		}
		if err := startup.RunStartupScript(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run GPIO startup script")
		}
		if err := startup.InstallControllerService(); err != nil {
			log.Fatal().Err(err).Msg("Failed to install controller service")
		}
	}

	if err := gpio.ValidateInitialPinStates(&cfg); err != nil {
		shutdown.ShutdownWithError(err, "Refusing to start with motor bridge in unsafe state")
	}

	nodeID, err := parseNodeID(cfg.NodeIDHex)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid node ID")
	}

	key, haveKey, err := loadKey(cfg.KeyFile)
	if err != nil {
		log.Fatal().Err(err).Str("key_file", cfg.KeyFile).Msg("Failed to load node key")
	}
	if !haveKey {
		log.Warn().Msg("No node key provisioned; telemetry will degrade to plain alive beacons")
	}

	link, err := radio.Open(cfg.SerialDevice, cfg.SerialBaud)
	if err != nil {
		log.Fatal().Err(err).Str("device", cfg.SerialDevice).Msg("Failed to open radio serial link")
	}
	defer link.Close()

	var tx *secureframe.TX
	if haveKey {
		tx = secureframe.NewTX(db.NewCounterStore(dbConn), secureframe.GCMEncryptor{}, nodeID, key)
	}
	rx := secureframe.NewRX(db.NewCounterStore(dbConn), db.NewAssociationStore(dbConn), secureframe.GCMDecryptor{})

	driver := motor.New(&cfg)
	clock := motor.NewSubCycleClock()
	motorValve := valve.New(driver, clock.Ticks, motor.MinMotorDRTicks, motor.SCTAbsLimit)

	gpio.Activate(cfg.MainPowerPin())
	gpio.Activate(cfg.StatusLEDPin())

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info().Msg("Shutdown signal received, releasing pins")
		shutdown.Shutdown()
	}()

	valvecontroller.Run(dbConn, motorValve, clock)
	telemetrycontroller.New(link, dbConn, motorValve, nodeID, tx, rx).Run()

	server := api.NewServer(dbConn, motorValve, &cfg)
	if err := server.Start(cfg.APIPort); err != nil {
		log.Fatal().Err(err).Msg("REST API server failed")
	}
}

func parseNodeID(s string) ([8]byte, error) {
	var id [8]byte
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return id, fmt.Errorf("node ID is not valid hex: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("node ID must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// loadKey reads the 16-byte hex node key. A missing or empty file is
// not an error: the node simply runs unkeyed until provisioned.
func loadKey(path string) ([16]byte, bool, error) {
	var key [16]byte
	if path == "" {
		return key, false, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return key, false, nil
	}
	if err != nil {
		return key, false, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return key, false, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return key, false, fmt.Errorf("key file is not valid hex: %w", err)
	}
	if len(raw) != len(key) {
		return key, false, fmt.Errorf("key must be %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, true, nil
}
