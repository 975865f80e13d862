package main

import (
	"fmt"
	"os"

	"github.com/odyssey-erp/odyssey-pos/cmd/posctl/cli"
	"github.com/odyssey-erp/odyssey-pos/internal/app"
)

func main() {
	defaults := cli.RootOptions{Database: "data/pos-queue.db", RedisAddr: "127.0.0.1:6379"}
	if cfg, err := app.LoadConfig(); err == nil {
		defaults.Database = cfg.LocalDBPath
		defaults.RedisAddr = cfg.RedisAddr
	}

	cmd := cli.NewRootCommand(defaults, cli.Deps{})
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "posctl: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
