package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/dripline/dripline/pkg/cmd"
	"github.com/dripline/dripline/pkg/log"
)

// NewValidateCommand checks every stored automation against the registry:
// graph structure, node types, parameter schemas. Exits non-zero when any
// automation is invalid.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate all stored automations against the registered actions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("validate")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger, nil)

			automations, err := persistence.AutomationRepository().Automations(ctx)
			if err != nil {
				return err
			}

			invalid := 0

			for _, automation := range automations {
				if err := registry.ValidateAutomation(automation); err != nil {
					invalid++

					logger.ErrorContext(ctx, "Automation is invalid",
						"automation_id", automation.ID,
						"name", automation.Name,
						"error", err,
					)

					continue
				}

				logger.InfoContext(ctx, "Automation is valid",
					"automation_id", automation.ID,
					"name", automation.Name,
				)
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d automations failed validation", invalid, len(automations))
			}

			logger.InfoContext(ctx, "All automations are valid", "count", len(automations))

			return nil
		},
	}
}
