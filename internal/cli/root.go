// Package cli builds the crowdnav command tree.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crowdnav",
		Short: "Crowd navigation server over triangulated walkable surfaces",
		Long: `crowdnav loads a navigation bake, simulates agents walking across it and
serves their state over HTTP and websockets.

Bakes can be read from HJSON, JSON or msgpack files, or from a SQL bake store.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (.yaml, .yml, .json or .hjson)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation and HTTP server",
		Args:  cobra.NoArgs,
		RunE:  RunServe,
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of bake files",
		Args:  cobra.NoArgs,
		RunE:  RunSchema,
	}
	schemaCmd.Flags().String("out", "", "Write the schema to a file instead of stdout")

	importCmd := &cobra.Command{
		Use:   "import <bake-file>",
		Short: "Store a bake file in the bake store",
		Args:  cobra.ExactArgs(1),
		RunE:  RunImport,
	}
	importCmd.Flags().Uint32("scene", 0, "Override the scene id of the bake")
	addStoreFlags(importCmd)

	scenesCmd := &cobra.Command{
		Use:   "scenes",
		Short: "List bakes in the bake store",
		Args:  cobra.NoArgs,
		RunE:  RunScenes,
	}
	scenesCmd.Flags().Bool("json", false, "Print machine-readable output")
	addStoreFlags(scenesCmd)

	convertCmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Re-encode a bake file; formats follow the file extensions",
		Args:  cobra.ExactArgs(2),
		RunE:  RunConvert,
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Answer a one-shot path query against a bake",
		Args:  cobra.NoArgs,
		RunE:  RunPath,
	}
	pathCmd.Flags().String("bake", "", "Bake file to query (defaults to the configured bake)")
	pathCmd.Flags().String("from", "", "Start position as x,y,z")
	pathCmd.Flags().String("to", "", "Destination as x,y,z")
	pathCmd.Flags().Float64("radius", 0, "Agent radius (defaults to the configured agent)")
	pathCmd.Flags().Uint32("area-mask", 0, "Allowed areas bit mask (0 allows every area)")
	pathCmd.MarkFlagRequired("from")
	pathCmd.MarkFlagRequired("to")
	addStoreFlags(pathCmd)

	rootCmd.AddCommand(serveCmd, schemaCmd, importCmd, scenesCmd, convertCmd, pathCmd)
	return rootCmd
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("driver", "", "Bake store driver: sqlite|mysql (defaults to the config)")
	cmd.Flags().String("dsn", "", "Bake store DSN (defaults to the config)")
}
