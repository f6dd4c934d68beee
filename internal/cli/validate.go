package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncline/syncline/internal/catalog"
)

// ValidationResult holds the validate command's JSON output.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Entities []string `json:"entities,omitempty"`
	Phrases  int      `json:"phrases,omitempty"`
	Error    string   `json:"error,omitempty"`
	Field    string   `json:"field,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog-dir>",
		Short: "Validate a CUE entity catalog",
		Long: `Validate a directory of CUE catalog files.

Compiles the catalog and checks the entity tables: parent references,
parent cycles, phrase precedence (a longer phrase listed after a shorter
prefix phrase would be unreachable), and visibility classes.

Exit codes:
  0 - Catalog is valid
  1 - Catalog is invalid
  2 - Command error (directory missing, no CUE files)

Examples:
  syncline validate ./catalog
  syncline validate ./catalog --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cat, err := catalog.CompileDir(dir)
	if err != nil {
		var compileErr *catalog.CompileError
		if errors.As(err, &compileErr) {
			return outputInvalidCatalog(formatter, compileErr)
		}
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	entities := cat.EntityNames()
	if formatter.Format == "json" {
		if err := formatter.Success(ValidationResult{
			Valid:    true,
			Entities: entities,
			Phrases:  len(cat.Phrases()),
		}); err != nil {
			return err
		}
		return nil
	}

	fmt.Fprintf(formatter.Writer, "✓ Catalog valid (%d entities, %d phrases)\n",
		len(entities), len(cat.Phrases()))
	for _, name := range entities {
		formatter.VerboseLog("  entity %s", name)
	}
	return nil
}

func outputInvalidCatalog(formatter *OutputFormatter, compileErr *catalog.CompileError) error {
	if formatter.Format == "json" {
		if err := formatter.Error("E001", "catalog validation failed", ValidationResult{
			Valid: false,
			Error: compileErr.Message,
			Field: compileErr.Field,
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "catalog validation failed")
	}

	fmt.Fprintln(formatter.Writer, "✗ Catalog invalid")
	fmt.Fprintf(formatter.Writer, "  %s: %s\n", compileErr.Field, compileErr.Message)
	return NewExitError(ExitFailure, "catalog validation failed")
}
