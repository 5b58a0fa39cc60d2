package cli

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/cobra"

	"crowdnav/internal/config"
	"crowdnav/internal/telemetry"
)

// loadConfig reads --config, applies the environment and the store flags
// of cmd when it has them.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg = config.ApplyEnv(cfg, os.Getenv, commandLogger(cmd))
	if flag := cmd.Flags().Lookup("driver"); flag != nil && flag.Changed {
		cfg.Store.Driver = strings.ToLower(flag.Value.String())
	}
	if flag := cmd.Flags().Lookup("dsn"); flag != nil && flag.Changed {
		cfg.Store.DSN = flag.Value.String()
	}
	return cfg, nil
}

func commandLogger(cmd *cobra.Command) telemetry.Logger {
	return telemetry.WrapLogger(log.New(cmd.ErrOrStderr(), "", log.LstdFlags))
}

// parseVec3 reads "x,y,z".
func parseVec3(raw string) (mgl64.Vec3, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("expected x,y,z, got %q", raw)
	}
	var v mgl64.Vec3
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return mgl64.Vec3{}, fmt.Errorf("invalid coordinate %q: %w", part, err)
		}
		v[i] = value
	}
	return v, nil
}
