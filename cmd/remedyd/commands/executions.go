package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"remedyd/internal/core"
	"remedyd/pkg/models"
)

func (a *App) executionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "executions",
		Usage: "Inspect the execution ledger",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent executions, newest first",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "rule",
						Usage: "restrict to a single rule ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum number of records",
						Value: models.DefaultExecutionHistoryLimit,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					db, log, err := openStore(cmd)
					if err != nil {
						return err
					}
					defer db.Close()

					var execs []*models.Execution
					if ruleID := cmd.Int64("rule"); ruleID > 0 {
						execs, err = core.ListRuleExecutions(ctx, db, log, models.RuleID(ruleID), cmd.Int("limit"))
					} else {
						execs, err = core.ListRecentExecutions(ctx, db, log, cmd.Int("limit"))
					}
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tRULE\tSTATUS\tSTARTED\tENDED\tACTIONS\tERROR")
					for _, e := range execs {
						ended := "-"
						if e.EndedAt != nil {
							ended = e.EndedAt.Format("2006-01-02 15:04:05")
						}
						fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
							e.ID, e.RuleID, e.Status,
							e.StartedAt.Format("2006-01-02 15:04:05"), ended,
							len(e.Actions), e.Error)
					}
					return w.Flush()
				},
			},
			{
				Name:      "show",
				Usage:     "Show a single execution record",
				ArgsUsage: "<execution-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one execution ID argument")
					}
					db, log, err := openStore(cmd)
					if err != nil {
						return err
					}
					defer db.Close()

					exec, err := core.GetExecution(ctx, db, log, cmd.Args().First())
					if err != nil {
						return err
					}

					fmt.Printf("execution %s\n", exec.ID)
					fmt.Printf("  rule:    %d\n", exec.RuleID)
					fmt.Printf("  status:  %s\n", exec.Status)
					fmt.Printf("  trigger: %s\n", exec.Trigger.Expression)
					for k, v := range exec.Trigger.Fields {
						fmt.Printf("    %s = %s\n", k, v)
					}
					for _, outcome := range exec.Actions {
						fmt.Printf("  action %d (%s): %s [%dms]\n",
							outcome.Index, outcome.Type, outcome.Status, outcome.DurationMS)
						if outcome.Error != "" {
							fmt.Printf("    error: %s\n", outcome.Error)
						}
					}
					if exec.Error != "" {
						fmt.Printf("  error: %s\n", exec.Error)
					}
					return nil
				},
			},
		},
	}
}
