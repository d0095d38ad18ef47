package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/memory"
)

func openEngine(slug string) (*memory.Engine, *config.Config, error) {
	cfg, reg, err := loadRegistry()
	if err != nil {
		return nil, nil, err
	}
	agent, err := reg.Get(slug)
	if err != nil {
		return nil, nil, err
	}
	var embedder memory.Embedder
	if cfg.Memory.EmbeddingAPIKey != "" {
		embedder = memory.NewOpenAIEmbedder(cfg.Memory.EmbeddingAPIKey, cfg.Memory.EmbeddingBase, cfg.Memory.EmbeddingModel)
	}
	eng, err := memory.Open(agent.Dir, memory.Options{
		ChunkSize:    cfg.Memory.ChunkSize,
		ChunkOverlap: cfg.Memory.ChunkOverlap,
		Embedder:     embedder,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain agent memory",
	}
	cmd.AddCommand(memoryReindexCmd())
	cmd.AddCommand(memorySearchCmd())
	cmd.AddCommand(memoryConsolidateCmd())
	cmd.AddCommand(memoryArchiveCmd())
	return cmd
}

func memoryReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <agent>",
		Short: "Rebuild the memory index from markdown files",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng, _, err := openEngine(args[0])
			if err != nil {
				fail(err)
			}
			defer eng.Close()
			if err := eng.Reindex(context.Background()); err != nil {
				fail(err)
			}
			fmt.Println("reindex complete")
		},
	}
}

func memorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <agent> <query>",
		Short: "Full-text search over an agent's memory",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			eng, _, err := openEngine(args[0])
			if err != nil {
				fail(err)
			}
			defer eng.Close()
			hits, err := eng.SearchText(args[1], limit)
			if err != nil {
				fail(err)
			}
			for _, hit := range hits {
				excerpt := hit.Content
				if len(excerpt) > 120 {
					excerpt = excerpt[:120] + "..."
				}
				fmt.Printf("%-30s %s\n", hit.Path, excerpt)
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max results")
	return cmd
}

func memoryConsolidateCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "consolidate <agent>",
		Short: "Promote facts from recent daily logs into MEMORY.md",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng, _, err := openEngine(args[0])
			if err != nil {
				fail(err)
			}
			defer eng.Close()
			res, err := eng.Consolidate(days)
			if err != nil {
				fail(err)
			}
			fmt.Printf("extracted %d facts, added %d new, from %d day(s)\n",
				res.FactsExtracted, res.FactsAdded, res.DaysProcessed)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "lookback window in days")
	return cmd
}

func memoryArchiveCmd() *cobra.Command {
	var threshold int
	cmd := &cobra.Command{
		Use:   "archive <agent>",
		Short: "Archive older MEMORY.md sections when the file grows too large",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng, cfg, err := openEngine(args[0])
			if err != nil {
				fail(err)
			}
			defer eng.Close()
			if threshold <= 0 {
				threshold = cfg.Memory.ArchiveMaxBytes
			}
			res, err := eng.Archive(threshold)
			if err != nil {
				fail(err)
			}
			if !res.Archived {
				fmt.Println("nothing to archive")
				return
			}
			fmt.Printf("archived %d section(s), MEMORY.md is now %d bytes\n", res.SectionsArchived, res.NewSize)
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 0, "size threshold in bytes (0 uses the configured default)")
	return cmd
}
