// Package main is the stepwise command. It runs the workflow engine's
// infrastructure and offers offline checks over definition files.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/pitabwire/stepwise/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	observability.Version = version
	observability.Commit = commit

	cmd := &cli.Command{
		Name:                  "stepwise",
		Usage:                 "Workflow orchestration engine",
		Version:               version,
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file (defaults apply when empty)",
				Sources: cli.EnvVars("STEPWISE_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			newServeCommand(),
			newValidateCommand(),
			newAuditCommand(),
			newStartCommand(),
			newAdvanceCommand(),
			newStatusCommand("pause", "Pause an active instance", true),
			newStatusCommand("resume", "Resume a paused instance", false),
			newAcknowledgeCommand(),
			newShowCommand(),
			newListCommand(),
			newReapCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "stepwise: %v\n", err)
		os.Exit(1)
	}
}
