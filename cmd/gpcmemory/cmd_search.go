package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gpcmemory/internal/retrieval"
)

var (
	searchTenant string
	searchTopK   int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a unified precedent search across all memory channels",
	Long: `Fans the query out over the semantic, lexical and graph channels and
prints the per-channel results. The graph channel only runs when
--tenant is given; without it graph results stay empty.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchTenant, "tenant", "t", "", "Tenant id for graph-channel scoping")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "Results per channel (default from config)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fs, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer fs.Close()

	eng := retrieval.NewEngineFromStore(fs, buildEmbedder(cfg), retrieval.Options{
		Deadline:    cfg.GetRetrievalDeadline(),
		ExpandLimit: cfg.Retrieval.GraphExpandLimit,
	})

	topK := searchTopK
	if topK <= 0 {
		topK = cfg.Retrieval.TopKPerChannel
	}

	query := ""
	for i, a := range args {
		if i > 0 {
			query += " "
		}
		query += a
	}

	resp, err := eng.Search(cmd.Context(), retrieval.Query{
		Text:     query,
		TenantID: searchTenant,
		TopK:     topK,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Semantic (%d):\n", len(resp.Semantic))
	for _, h := range resp.Semantic {
		fmt.Printf("  %.3f  [%s] %s\n", h.Score, h.EpisodeID, h.Content)
	}
	fmt.Printf("Sparse (%d):\n", len(resp.Sparse))
	for _, h := range resp.Sparse {
		fmt.Printf("  %.3f  [%s] %s\n", h.Score, h.EpisodeID, h.Content)
	}
	fmt.Printf("Graph (%d):\n", len(resp.Graph))
	for _, ev := range resp.Graph {
		fmt.Printf("  %.2f  %s -[%s]-> %s\n", ev.Confidence, ev.SubjectID, ev.Predicate, ev.ObjectID)
	}
	if len(resp.Degraded) > 0 {
		fmt.Println("Degraded channels:")
		for ch, reason := range resp.Degraded {
			fmt.Printf("  %s: %s\n", ch, reason)
		}
	}
	fmt.Printf("Elapsed: %s\n", resp.Elapsed)
	return nil
}
