package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"exam-prep-service/internal/config"
	"exam-prep-service/internal/domain"
	pg "exam-prep-service/internal/infra/postgres"
)

// NewSeedCmd loads a question dump (JSON array) into the questions table.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <questions.json>",
		Short: "Seed the question bank from a JSON dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var questions []domain.Question
			if err := json.Unmarshal(raw, &questions); err != nil {
				return fmt.Errorf("parse question dump: %w", err)
			}

			if err := runMigrationsWithConfig(cmd.Context(), cfg); err != nil {
				return err
			}

			db := openBun(cfg.Postgres.URL)
			defer db.Close()

			n, err := pg.SeedQuestions(cmd.Context(), db, questions)
			if err != nil {
				return err
			}
			log.Printf("seeded %d questions", n)
			return nil
		},
	}
}
