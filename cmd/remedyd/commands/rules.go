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

func (a *App) rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Manage remediation rules",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List all rules",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					db, log, err := openStore(cmd)
					if err != nil {
						return err
					}
					defer db.Close()

					rules, err := core.ListRules(ctx, db, log)
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tENABLED\tCOOLDOWN\tACTIONS\tTRIGGER")
					for _, r := range rules {
						fmt.Fprintf(w, "%d\t%s\t%t\t%ds\t%d\t%s\n",
							r.ID, r.Name, r.Enabled, r.CooldownSeconds, len(r.Actions), r.TriggerExpr)
					}
					return w.Flush()
				},
			},
			{
				Name:      "enable",
				Usage:     "Enable a rule",
				ArgsUsage: "<rule-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.setEnabled(ctx, cmd, true)
				},
			},
			{
				Name:      "disable",
				Usage:     "Disable a rule",
				ArgsUsage: "<rule-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.setEnabled(ctx, cmd, false)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a rule and its execution history",
				ArgsUsage: "<rule-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					ruleID, err := ruleIDArg(cmd)
					if err != nil {
						return err
					}
					db, log, err := openStore(cmd)
					if err != nil {
						return err
					}
					defer db.Close()

					if err := core.DeleteRule(ctx, db, log, ruleID); err != nil {
						return err
					}
					fmt.Printf("rule %d deleted\n", ruleID)
					return nil
				},
			},
		},
	}
}

func (a *App) setEnabled(ctx context.Context, cmd *cli.Command, enabled bool) error {
	ruleID, err := ruleIDArg(cmd)
	if err != nil {
		return err
	}
	db, log, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	rule, err := core.SetRuleEnabled(ctx, db, log, ruleID, enabled)
	if err != nil {
		return err
	}
	fmt.Printf("rule %d (%s) enabled=%t\n", rule.ID, rule.Name, rule.Enabled)
	return nil
}

func ruleIDArg(cmd *cli.Command) (models.RuleID, error) {
	if cmd.Args().Len() != 1 {
		return 0, fmt.Errorf("expected exactly one rule ID argument")
	}
	var id int64
	if _, err := fmt.Sscanf(cmd.Args().First(), "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid rule ID %q", cmd.Args().First())
	}
	return models.RuleID(id), nil
}
