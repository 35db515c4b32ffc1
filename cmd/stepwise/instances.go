package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/pitabwire/stepwise/model"
)

// callerFlags identify the user an instance command acts for.
func callerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "user",
			Aliases:  []string{"u"},
			Usage:    "User id of the caller",
			Required: true,
			Sources:  cli.EnvVars("STEPWISE_USER"),
		},
		&cli.StringFlag{
			Name:     "role",
			Aliases:  []string{"r"},
			Usage:    "Role of the caller",
			Required: true,
			Sources:  cli.EnvVars("STEPWISE_ROLE"),
		},
		&cli.StringFlag{
			Name:    "company",
			Usage:   "Company scope of the caller",
			Sources: cli.EnvVars("STEPWISE_COMPANY"),
		},
		&cli.StringFlag{
			Name:    "department",
			Usage:   "Department scope of the caller",
			Sources: cli.EnvVars("STEPWISE_DEPARTMENT"),
		},
	}
}

func dataFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "data",
		Usage: "Step data as a JSON object",
	}
}

func callerFrom(cmd *cli.Command) *model.RequestContext {
	return &model.RequestContext{
		SubjectID:    cmd.String("user"),
		Role:         cmd.String("role"),
		CompanyID:    cmd.String("company"),
		DepartmentID: cmd.String("department"),
	}
}

func stepDataFrom(cmd *cli.Command) (model.StepData, error) {
	raw := cmd.String("data")
	if raw == "" {
		return model.StepData{}, nil
	}
	var data model.StepData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("--data: %w", err)
	}
	return data, nil
}

// withRuntime wires a runtime for the duration of fn and drains it afterwards
// so queued audit records and events are not lost.
func withRuntime(ctx context.Context, cmd *cli.Command, fn func(rt *runtime) error) error {
	rt, err := loadRuntime(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.close(closeCtx)
	}()
	return fn(rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a workflow instance",
		ArgsUsage: "<workflow>",
		Flags:     append(callerFlags(), dataFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return fmt.Errorf("start: workflow name is required")
			}
			data, err := stepDataFrom(cmd)
			if err != nil {
				return err
			}
			return withRuntime(ctx, cmd, func(rt *runtime) error {
				inst, err := rt.engine.Start(ctx, callerFrom(cmd), name, data)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, inst)
			})
		},
	}
}

func newAdvanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "advance",
		Usage:     "Complete the current step of an instance and move it on",
		ArgsUsage: "<instance-id>",
		Flags:     append(callerFlags(), dataFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("advance: instance id is required")
			}
			data, err := stepDataFrom(cmd)
			if err != nil {
				return err
			}
			return withRuntime(ctx, cmd, func(rt *runtime) error {
				inst, err := rt.engine.Advance(ctx, callerFrom(cmd), id, data)
				if err != nil && model.IsCode(err, model.ErrActionFailed) && inst.ID != "" {
					// The failed instance is persisted; show it with the error.
					_ = printJSON(os.Stdout, inst)
				}
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, inst)
			})
		},
	}
}

func newStatusCommand(name, usage string, pause bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<instance-id>",
		Flags:     callerFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("%s: instance id is required", name)
			}
			return withRuntime(ctx, cmd, func(rt *runtime) error {
				var (
					inst model.WorkflowInstance
					err  error
				)
				if pause {
					inst, err = rt.engine.Pause(ctx, callerFrom(cmd), id)
				} else {
					inst, err = rt.engine.Resume(ctx, callerFrom(cmd), id)
				}
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, inst)
			})
		},
	}
}

func newAcknowledgeCommand() *cli.Command {
	return &cli.Command{
		Name:      "acknowledge",
		Aliases:   []string{"ack"},
		Usage:     "Remove a finished instance the caller owns",
		ArgsUsage: "<instance-id>",
		Flags:     callerFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("acknowledge: instance id is required")
			}
			return withRuntime(ctx, cmd, func(rt *runtime) error {
				return rt.engine.Acknowledge(ctx, callerFrom(cmd), id)
			})
		},
	}
}

func newShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print an instance",
		ArgsUsage: "<instance-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("show: instance id is required")
			}
			return withRuntime(ctx, cmd, func(rt *runtime) error {
				inst, err := rt.engine.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, inst)
			})
		},
	}
}

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the active and paused instances of a user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User id",
				Required: true,
				Sources:  cli.EnvVars("STEPWISE_USER"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withRuntime(ctx, cmd, func(rt *runtime) error {
				list, err := rt.engine.ListActiveForUser(ctx, cmd.String("user"))
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, list)
			})
		},
	}
}

func newReapCommand() *cli.Command {
	return &cli.Command{
		Name:  "reap",
		Usage: "Run one reaper sweep now",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withRuntime(ctx, cmd, func(rt *runtime) error {
				n, err := rt.reaper.Sweep(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "reaped %d instance(s)\n", n)
				return nil
			})
		},
	}
}
