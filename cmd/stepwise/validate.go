package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/pitabwire/stepwise/internal/config"
	"github.com/pitabwire/stepwise/internal/definition"
	"github.com/pitabwire/stepwise/internal/reachability"
	"github.com/pitabwire/stepwise/model"
)

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Load and check definition files without registering them",
		ArgsUsage: "[directory...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dirs := cmd.Args().Slice()
			if len(dirs) == 0 {
				cfg, err := config.Load(cmd.String("config"))
				if err != nil {
					return err
				}
				dirs = cfg.Definitions.Directories
			}
			if len(dirs) == 0 {
				return fmt.Errorf("validate: no definition directories given")
			}

			loader := definition.NewLoader(builtinActions)
			docs, err := loader.LoadAll(dirs)
			if err != nil {
				return err
			}
			compiled, verrs := loader.Compile(docs)
			for _, ve := range verrs {
				fmt.Fprintln(os.Stdout, ve.Error())
			}
			if len(verrs) > 0 {
				return fmt.Errorf("validate: %d error(s) in %d document(s)", len(verrs), len(docs))
			}

			for _, c := range compiled {
				fmt.Fprintf(os.Stdout, "ok  %-32s %d steps  %s\n", c.Definition.Name, len(c.Definition.Steps), c.SourceFile)
			}
			return nil
		},
	}
}

func newAuditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Print what a role could reach in every registered workflow",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "role",
				Aliases:  []string{"r"},
				Usage:    "Role to audit",
				Required: true,
			},
			&cli.StringFlag{Name: "user", Usage: "User id used for own-level scope rules"},
			&cli.StringFlag{Name: "company", Usage: "Company scope"},
			&cli.StringFlag{Name: "department", Usage: "Department scope"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			defs, verrs, err := buildRegistry(cfg.Definitions)
			if err != nil {
				return err
			}
			if len(verrs) > 0 {
				for _, ve := range verrs {
					fmt.Fprintln(os.Stderr, ve.Error())
				}
				return fmt.Errorf("audit: %d definition error(s)", len(verrs))
			}
			policy, err := buildPolicy(cfg.Capability)
			if err != nil {
				return err
			}

			results, err := reachability.New(defs, policy, policy).AuditRole(ctx, cmd.String("role"), model.ScopeContext{
				UserID:       cmd.String("user"),
				CompanyID:    cmd.String("company"),
				DepartmentID: cmd.String("department"),
			})
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, results)
		},
	}
}
