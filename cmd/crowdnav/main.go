package main

import (
	"context"
	"fmt"
	"os"

	"crowdnav/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "crowdnav: %v\n", err)
		os.Exit(1)
	}
}
