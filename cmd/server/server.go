package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"

	"github.com/coder/hopperapi/lib/hopper"
	"github.com/coder/hopperapi/lib/httpapi"
	"github.com/coder/hopperapi/lib/logctx"
	"github.com/coder/hopperapi/lib/servo"
)

type ActuatorType string

const (
	ActuatorTypeLog    ActuatorType = "log"
	ActuatorTypeMemory ActuatorType = "memory"
	ActuatorTypeSysfs  ActuatorType = "sysfs"
)

func parseActuatorType(actuatorTypeVar string) (ActuatorType, error) {
	switch actuatorTypeVar {
	case string(ActuatorTypeLog), "":
		return ActuatorTypeLog, nil
	case string(ActuatorTypeMemory):
		return ActuatorTypeMemory, nil
	case string(ActuatorTypeSysfs):
		return ActuatorTypeSysfs, nil
	default:
		return "", fmt.Errorf("invalid actuator type: %s", actuatorTypeVar)
	}
}

// parseHopper parses "label" or "label=color". The label doubles as the id.
func parseHopper(entry string) (hopper.Hopper, error) {
	label, color, _ := strings.Cut(strings.TrimSpace(entry), "=")
	label = strings.TrimSpace(label)
	if label == "" {
		return hopper.Hopper{}, fmt.Errorf("invalid hopper %q: empty label", entry)
	}
	return hopper.Hopper{
		ID:    hopper.ID(strings.ToLower(label)),
		Label: label,
		Color: strings.TrimSpace(color),
	}, nil
}

// stringSlice reads a list setting. Environment variables hold a single
// comma separated string.
func stringSlice(key string) []string {
	out := []string{}
	for _, v := range viper.GetStringSlice(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func buildActuator(actuatorType ActuatorType, recorder *servo.Recorder) servo.Actuator {
	switch actuatorType {
	case ActuatorTypeMemory:
		return recorder
	case ActuatorTypeSysfs:
		return servo.Chain{
			servo.NewSysfsPWM(servo.SysfsPWMConfig{
				Root: viper.GetString(FlagSysfsRoot),
				Chip: viper.GetInt(FlagPWMChip),
			}),
			recorder,
		}
	default:
		return servo.Chain{servo.LogActuator{}, recorder}
	}
}

func runServer(ctx context.Context, logger *slog.Logger) error {
	actuatorType, err := parseActuatorType(viper.GetString(FlagActuator))
	if err != nil {
		return xerrors.Errorf("failed to parse actuator type: %w", err)
	}
	recorder := servo.NewRecorder(viper.GetInt(FlagHistorySize))
	ring := hopper.NewRing[hopper.ID](hopper.RingConfig{
		Actuator:       buildActuator(actuatorType, recorder),
		MultiSlotIndex: viper.GetInt(FlagMultiSlotIndex),
		ChannelOffset:  viper.GetInt(FlagChannelOffset),
		OpenPosition:   viper.GetInt(FlagOpenPosition),
		ClosePosition:  viper.GetInt(FlagClosePosition),
	})

	port := viper.GetInt(FlagPort)
	srv, err := httpapi.NewServer(ctx, httpapi.ServerConfig{
		Ring:           ring,
		Registry:       hopper.NewRegistry(),
		Recorder:       recorder,
		Port:           port,
		BasePath:       viper.GetString(FlagBasePath),
		AllowedHosts:   stringSlice(FlagAllowedHosts),
		AllowedOrigins: stringSlice(FlagAllowedOrigins),
	})
	if err != nil {
		return xerrors.Errorf("failed to create server: %w", err)
	}
	if viper.GetBool(FlagPrintOpenAPI) {
		fmt.Println(srv.GetOpenAPI())
		return nil
	}

	for _, entry := range stringSlice(FlagHoppers) {
		h, err := parseHopper(entry)
		if err != nil {
			return err
		}
		if _, err := srv.AddHopper(h, nil); err != nil {
			return xerrors.Errorf("failed to add hopper %q: %w", h.Label, err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop server", "error", err)
		}
	}()

	logger.Info("Starting server", "port", port, "actuator", actuatorType)
	if err := srv.Start(); err != nil && err != context.Canceled && err != http.ErrServerClosed {
		return xerrors.Errorf("failed to start server: %w", err)
	}
	return nil
}

const (
	FlagPort           = "port"
	FlagPrintOpenAPI   = "print-openapi"
	FlagActuator       = "actuator"
	FlagPWMChip        = "pwm-chip"
	FlagSysfsRoot      = "sysfs-root"
	FlagMultiSlotIndex = "multi-slot-index"
	FlagChannelOffset  = "channel-offset"
	FlagOpenPosition   = "open-position"
	FlagClosePosition  = "close-position"
	FlagHoppers        = "hoppers"
	FlagHistorySize    = "history-size"
	FlagBasePath       = "base-path"
	FlagAllowedHosts   = "allowed-hosts"
	FlagAllowedOrigins = "allowed-origins"
)

type flagSpec struct {
	name         string
	shorthand    string
	defaultValue any
	usage        string
}

func CreateServerCmd() *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the server",
		Long:  `Run the dispenser HTTP server. Servo writes go to the selected actuator (log, memory, sysfs).`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			ctx := logctx.WithLogger(context.Background(), logger)
			if err := runServer(ctx, logger); err != nil {
				logger.Error("Server failed", "error", err)
				os.Exit(1)
			}
		},
	}

	flagSpecs := []flagSpec{
		{FlagPort, "p", 3284, "Port to run the server on"},
		{FlagPrintOpenAPI, "", false, "Print the OpenAPI schema to stdout and exit"},
		{FlagActuator, "a", string(ActuatorTypeLog), "Servo backend (log, memory, sysfs)"},
		{FlagPWMChip, "", 0, "PWM chip number for the sysfs actuator"},
		{FlagSysfsRoot, "", servo.DefaultSysfsRoot, "Root of the PWM sysfs tree"},
		{FlagMultiSlotIndex, "", 4, "Cursor position that opens every hopper, negative to disable"},
		{FlagChannelOffset, "", 5, "Added to the cursor to get a hopper's servo channel"},
		{FlagOpenPosition, "", 60, "Servo position of an open gate"},
		{FlagClosePosition, "", 0, "Servo position of a closed gate"},
		{FlagHoppers, "", []string{}, "Hoppers to load at startup, as label or label=color"},
		{FlagHistorySize, "", 64, "Number of servo writes kept for /actuations"},
		{FlagBasePath, "", "", "Path prefix to serve the API under"},
		{FlagAllowedHosts, "", []string{"localhost", "127.0.0.1", "[::1]"}, "Allowed Host headers, * for any"},
		{FlagAllowedOrigins, "", []string{"http://localhost:3284", "http://localhost:3000"}, "Allowed CORS origins, * for any"},
	}

	for _, spec := range flagSpecs {
		switch v := spec.defaultValue.(type) {
		case int:
			serverCmd.Flags().IntP(spec.name, spec.shorthand, v, spec.usage)
		case bool:
			serverCmd.Flags().BoolP(spec.name, spec.shorthand, v, spec.usage)
		case string:
			serverCmd.Flags().StringP(spec.name, spec.shorthand, v, spec.usage)
		case []string:
			serverCmd.Flags().StringSliceP(spec.name, spec.shorthand, v, spec.usage)
		default:
			panic(fmt.Sprintf("unsupported flag type for %s", spec.name))
		}
		if err := viper.BindPFlag(spec.name, serverCmd.Flags().Lookup(spec.name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", spec.name, err))
		}
	}

	viper.SetEnvPrefix("HOPPERAPI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return serverCmd
}
