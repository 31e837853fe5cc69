package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show fact store row counts and vector search status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()

		stats, err := fs.GetStats()
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}

		tables := make([]string, 0, len(stats))
		for t := range stats {
			tables = append(tables, t)
		}
		sort.Strings(tables)

		fmt.Printf("Database: %s\n", cfg.Store.DatabasePath)
		for _, t := range tables {
			fmt.Printf("  %-16s %d\n", t, stats[t])
		}
		if fs.VectorSearchAvailable() {
			fmt.Println("Vector search: sqlite-vec ANN")
		} else {
			fmt.Println("Vector search: brute-force cosine fallback")
		}
		return nil
	},
}
