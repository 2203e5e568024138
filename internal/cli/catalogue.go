package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/progress"
)

// newCatalogueCmd creates the 'catalogue' command group.
func newCatalogueCmd() *cobra.Command {
	catalogueCmd := &cobra.Command{
		Use:     "catalogue",
		Aliases: []string{"catalog"},
		Short:   "Inspect and load the col catalogue",
		Long: `Catalogue commands.

Commands:
  import - Load cols from a JSON file
  list   - List catalogued cols and their profile status`,
	}

	catalogueCmd.AddCommand(newCatalogueImportCmd())
	catalogueCmd.AddCommand(newCatalogueListCmd())
	return catalogueCmd
}

func newCatalogueImportCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Load cols from a JSON file into the catalogue",
		Long: `Insert or replace cols from a JSON file.

The file holds either an array of cols or an object {"cols": [...]}.
Each col needs an id; existing cols with the same id are replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := GetContext()

			var reporter progress.Reporter = progress.NewCLIProgress()
			if quiet {
				reporter = progress.NewNoOpProgress()
			}
			cols, err := readCatalogueFile(args[0], reporter)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.PutCols(ctx, cols); err != nil {
				return fmt.Errorf("failed to import cols: %w", err)
			}
			GetLogger().Info().Int("cols", len(cols)).Str("file", args[0]).Msg("Catalogue imported")
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d cols\n", len(cols))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show a progress bar")
	return cmd
}

func newCatalogueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalogued cols",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := GetContext()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			cols, err := store.GetAll(ctx)
			if err != nil {
				return err
			}
			printCols(cmd.OutOrStdout(), cols)
			return nil
		},
	}
}

// printCols writes one line per col, sorted by id.
func printCols(w io.Writer, cols []models.Col) {
	if len(cols) == 0 {
		fmt.Fprintln(w, "Catalogue is empty.")
		return
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].ID < cols[j].ID })

	fmt.Fprintf(w, "%-24s %-32s %7s %6s  %s\n", "ID", "NAME", "LENGTH", "GRADE", "PROFILE")
	for _, c := range cols {
		status := "-"
		if c.Profile != nil {
			status = fmt.Sprintf("%d segments, %s", len(c.Profile.Segments), c.Profile.GeneratedAt.UTC().Format("2006-01-02"))
		}
		fmt.Fprintf(w, "%-24s %-32s %6.1fk %5.1f%%  %s\n", c.ID, c.Name, c.Length, c.AvgGrade, status)
	}
}
