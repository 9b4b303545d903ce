package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ravelhq/inboxd/internal/config"
	"github.com/ravelhq/inboxd/internal/daemon"
	"github.com/ravelhq/inboxd/internal/workspace"
	"go.uber.org/fx"
)

func main() {
	workspaceFlag := flag.String("workspace", "", "workspace name (overrides config default)")
	flag.Parse()

	name := workspace.Resolve(*workspaceFlag)
	if err := workspace.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	engine := config.Defaults()
	if cfg, err := config.Load(workspace.ConfigPath()); err == nil {
		engine = cfg.Engine
	}

	app := fx.New(
		daemon.Module(daemon.Params{WorkspaceName: name, Engine: engine}),
	)

	app.Run()
}
