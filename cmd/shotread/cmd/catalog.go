package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/models"
	"github.com/psantana5/shotread/pkg/store"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage practice clips",
	Long: `Commands for listing and editing the clip catalog. Edits need a catalog
database (catalog.db in the config or SHOTREAD_CATALOG_DB).`,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the clips a session draws from",
	RunE:  runCatalogList,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Replace the database catalog with a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogImport,
}

var catalogExportCmd = &cobra.Command{
	Use:   "export <file.yaml>",
	Short: "Write the current catalog to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogExport,
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <id> <answer> <start> <stop> [description]",
	Short: "Add or update a clip in the database",
	Args:  cobra.RangeArgs(4, 5),
	RunE:  runCatalogAdd,
}

var catalogRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a clip from the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogRemove,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd, catalogImportCmd, catalogExportCmd, catalogAddCmd, catalogRemoveCmd)
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg, logging.Discard())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(catalog, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Answer", "Start", "Stop", "Description")
	for _, item := range catalog {
		table.Append([]string{
			item.ID,
			item.Answer,
			fmt.Sprintf("%.2f", item.Start),
			fmt.Sprintf("%.2f", item.Stop),
			item.Description,
		})
	}
	table.Render()
	fmt.Printf("\n%d clips\n", len(catalog))
	return nil
}

// withDatabase opens the configured catalog database for an edit
func withDatabase(fn func(s store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Catalog.DB == "" {
		return fmt.Errorf("no catalog database configured (set catalog.db)")
	}
	s, err := openCatalogStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	catalog, err := store.LoadCatalogFile(args[0])
	if err != nil {
		return err
	}
	return withDatabase(func(s store.Store) error {
		if err := s.ReplaceCatalog(catalog); err != nil {
			return err
		}
		fmt.Printf("Imported %d clips from %s\n", len(catalog), args[0])
		return nil
	})
}

func runCatalogExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg, logging.Discard())
	if err != nil {
		return err
	}
	if err := store.SaveCatalogFile(args[0], catalog); err != nil {
		return err
	}
	fmt.Printf("Exported %d clips to %s\n", len(catalog), args[0])
	return nil
}

func runCatalogAdd(cmd *cobra.Command, args []string) error {
	start, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid start %q: %w", args[2], err)
	}
	stop, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("invalid stop %q: %w", args[3], err)
	}
	item := models.PracticeItem{ID: args[0], Answer: args[1], Start: start, Stop: stop}
	if len(args) == 5 {
		item.Description = args[4]
	}
	return withDatabase(func(s store.Store) error {
		if err := s.PutItem(item); err != nil {
			return err
		}
		fmt.Printf("Saved clip %s\n", item.ID)
		return nil
	})
}

func runCatalogRemove(cmd *cobra.Command, args []string) error {
	return withDatabase(func(s store.Store) error {
		if err := s.DeleteItem(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed clip %s\n", args[0])
		return nil
	})
}
