package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crowdnav/internal/bake"
	"crowdnav/internal/bakestore"
)

func RunSchema(cmd *cobra.Command, args []string) error {
	data, err := json.MarshalIndent(bake.Schema(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	data = append(data, '\n')
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}

func RunImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	desc, err := bake.LoadFile(args[0])
	if err != nil {
		return err
	}
	if flag := cmd.Flags().Lookup("scene"); flag != nil && flag.Changed {
		desc.SceneID, _ = cmd.Flags().GetUint32("scene")
	}
	store, err := bakestore.Open(cfg.Store.Driver, cfg.Store.DSN, commandLogger(cmd))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Save(context.Background(), desc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported scene %d: %d vertices, %d triangles\n", desc.SceneID, len(desc.Vertices), len(desc.Triangles))
	return nil
}

func RunScenes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := bakestore.Open(cfg.Store.Driver, cfg.Store.DSN, commandLogger(cmd))
	if err != nil {
		return err
	}
	defer store.Close()
	scenes, err := store.List(context.Background())
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(scenes)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCENE\tVERTICES\tTRIANGLES\tUPDATED")
	for _, scene := range scenes {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", scene.SceneID, scene.Vertices, scene.Triangles, scene.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return w.Flush()
}

func RunConvert(cmd *cobra.Command, args []string) error {
	desc, err := bake.LoadFile(args[0])
	if err != nil {
		return err
	}
	if err := bake.SaveFile(args[1], desc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", args[1], bake.FormatForPath(args[1]))
	return nil
}
