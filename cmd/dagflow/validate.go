package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/orchestrator"
	"github.com/aescanero/dagflow/pkg/domain"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a workflow definition for consistency",
	Long: `Checks required fields, node kinds, references, guard expressions and the
reachability of every state. Actor names are not checked against a registry.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := loadDefinition(args[0])
		if err != nil {
			return err
		}

		orch, err := orchestrator.New(orchestrator.DefaultConfig(), nil, zap.NewNop())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if err := orch.Check(def); err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				for _, msg := range verr.Errors {
					fmt.Fprintf(out, "  - %s\n", msg)
				}
			}
			return fmt.Errorf("definition %s is invalid: %w", def.ID, err)
		}

		fmt.Fprintf(out, "definition %s is valid\n", def.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
