package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/config"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/database"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Import C-MAPSS train, test and RUL files into the fleet database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbCfg, err := configx.New[database.Config]("DB")
		if err != nil {
			return err
		}
		dataset, _ := cmd.Flags().GetString("dataset")
		if dataset == "" {
			return fmt.Errorf("--dataset is required")
		}

		store, err := database.Open(*dbCfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		if err := store.Migrate(ctx); err != nil {
			return err
		}

		files := []struct {
			flag string
			kind database.FileKind
		}{
			{"train", database.FileTrain},
			{"test", database.FileTest},
			{"rul", database.FileRUL},
		}
		for _, f := range files {
			path, _ := cmd.Flags().GetString(f.flag)
			if path == "" {
				continue
			}
			if err := importFile(cmd, store, f.kind, dataset, path); err != nil {
				return err
			}
		}
		return nil
	},
}

func importFile(cmd *cobra.Command, store *database.Store, kind database.FileKind, dataset, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	n, err := store.ImportCMAPSS(cmd.Context(), kind, dataset, fh)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	log.Info().Str("dataset", dataset).Str("kind", string(kind)).Int("rows", n).Msg("imported")
	return nil
}

func init() {
	rootCmd.AddCommand(loadCmd)
	f := loadCmd.Flags()
	f.String("dataset", "", "Dataset name, e.g. FD001")
	f.String("train", "", "Path to train_FDxxx.txt")
	f.String("test", "", "Path to test_FDxxx.txt")
	f.String("rul", "", "Path to RUL_FDxxx.txt")
}
