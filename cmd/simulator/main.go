package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose bool
	simCfg  = Config{}
	runOnce bool
)

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "OCPP 2.0.1 charging station simulator",
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Connect one simulated charging station to a central system",
	RunE:  runSimulate,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging")

	f := simulateCmd.Flags()
	f.StringVar(&simCfg.ServerURL, "server", "ws://localhost:9000", "central system websocket URL (charger id is appended)")
	f.StringVar(&simCfg.ChargerID, "id", "station_07", "charging station id")
	f.StringVar(&simCfg.Vendor, "vendor", "EVBox", "vendor name reported at boot")
	f.StringVar(&simCfg.Model, "model", "EVBox Home", "model reported at boot")
	f.StringVar(&simCfg.SerialNumber, "serial", "", "serial number reported at boot (defaults to the id)")
	f.StringVar(&simCfg.FirmwareVersion, "firmware", "1.0.0", "firmware version reported at boot")
	f.StringVar(&simCfg.IdToken, "id-token", "SIM-TAG-0001", "token presented in Authorize")
	f.Float64Var(&simCfg.EnergyWh, "energy-wh", 5000, "energy delivered over one session, in Wh")
	f.Float64Var(&simCfg.PricePerKWh, "price", 0.35, "price per kWh used for the reported total cost")
	f.DurationVar(&simCfg.SessionDuration, "session-duration", time.Minute, "length of one charging session")
	f.DurationVar(&simCfg.UpdateInterval, "update-interval", 5*time.Second, "interval between Updated events")
	f.BoolVar(&simCfg.ProtocolDebug, "protocol-debug", os.Getenv("OCPP_PROTOCOL_DEBUG") == "true", "log every raw frame")
	f.BoolVar(&runOnce, "once", false, "run one local session after boot and exit")

	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := NewSimulator(simCfg, logger)
	if err := sim.Connect(ctx); err != nil {
		return err
	}
	defer sim.Close()

	if err := sim.Boot(ctx); err != nil {
		return err
	}

	if runOnce {
		return sim.RunSession(ctx, "")
	}

	logger.Info("Simulator running, waiting for central system commands",
		zap.String("charger_id", simCfg.ChargerID),
		zap.String("server", simCfg.ServerURL),
	)
	return sim.Wait(ctx)
}

func newLogger() (*zap.Logger, error) {
	if verbose || simCfg.ProtocolDebug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
