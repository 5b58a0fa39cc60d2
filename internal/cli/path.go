package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/cobra"

	"crowdnav/internal/app"
	"crowdnav/internal/crowd"
	"crowdnav/internal/navmesh"
)

type pathOutput struct {
	SceneID   uint32       `json:"sceneId"`
	Waypoints []mgl64.Vec3 `json:"waypoints"`
	Length    float64      `json:"length"`
}

func RunPath(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if file, _ := cmd.Flags().GetString("bake"); file != "" {
		cfg.Store.BakeFile = file
	}
	fromRaw, _ := cmd.Flags().GetString("from")
	toRaw, _ := cmd.Flags().GetString("to")
	from, err := parseVec3(fromRaw)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseVec3(toRaw)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	settings := cfg.Agent
	if flag := cmd.Flags().Lookup("radius"); flag != nil && flag.Changed {
		settings.Radius, _ = cmd.Flags().GetFloat64("radius")
	}
	if flag := cmd.Flags().Lookup("area-mask"); flag != nil && flag.Changed {
		mask, _ := cmd.Flags().GetUint32("area-mask")
		settings.AreaMask = navmesh.AreaMask(mask)
	}

	ctx := context.Background()
	logger := commandLogger(cmd)
	desc, found, err := app.LoadBake(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no bake: pass --bake or configure store.sceneId")
	}

	worldCfg := cfg.World()
	worldCfg.Jobs.Workers = 1
	world := crowd.New(worldCfg, crowd.Deps{Logger: logger})
	if err := world.ReplaceMesh(ctx, desc); err != nil {
		return err
	}
	waypoints, err := world.Path(from, to, settings)
	if err != nil {
		return err
	}

	out := pathOutput{SceneID: desc.SceneID, Waypoints: waypoints}
	for i := 1; i < len(waypoints); i++ {
		out.Length += waypoints[i].Sub(waypoints[i-1]).Len()
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
