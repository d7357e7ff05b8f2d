package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/grantdraft/grantdraft/engine/catalog"
	"github.com/grantdraft/grantdraft/engine/rag"
)

func (c *cli) searchCmd() *cobra.Command {
	var (
		namespace string
		topK      int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := c.app.RAG.Search(cmd.Context(), args[0], namespace, topK)
			if err != nil {
				return err
			}
			if c.jsonOut {
				if results == nil {
					results = []rag.SearchResult{}
				}
				return c.printJSON(cmd, results)
			}
			if len(results) == 0 {
				cmd.Println("No results found.")
				return nil
			}
			for i, r := range results {
				cmd.Printf("[%d] %.3f  %s #%d (%s)\n", i+1, r.Score, r.DocumentName, r.ChunkIndex, r.Namespace)
				cmd.Printf("    %s\n", snippet(r.Text, 160))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "restrict the search to one namespace")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default from config)")
	return cmd
}

func (c *cli) namespacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "namespaces",
		Short: "List indexed namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := c.app.RAG.Namespaces(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, list)
			}
			if list.Degraded {
				cmd.PrintErrln("index is empty; listing documents on disk")
			}
			for _, ns := range list.Names {
				cmd.Println(ns)
			}
			return nil
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Describe the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := c.app.RAG.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, stats)
			}
			cmd.Printf("vectors:   %s\n", humanize.Comma(int64(stats.TotalVectorCount)))
			cmd.Printf("dimension: %d\n", stats.Dimension)
			names := make([]string, 0, len(stats.Namespaces))
			for ns := range stats.Namespaces {
				names = append(names, ns)
			}
			sort.Strings(names)
			for _, ns := range names {
				cmd.Printf("  %-40s %s\n", ns, humanize.Comma(int64(stats.Namespaces[ns])))
			}
			return nil
		},
	}
}

func (c *cli) contentCmd() *cobra.Command {
	var (
		query     string
		maxChunks int
	)
	cmd := &cobra.Command{
		Use:   "content <document>",
		Short: "Print the most relevant chunks of one reference document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := c.app.RAG.DocumentContent(cmd.Context(), args[0], query, maxChunks)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, map[string]string{"document": args[0], "content": content})
			}
			cmd.Println(content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "query the chunks are ranked by (required)")
	cmd.Flags().IntVar(&maxChunks, "max-chunks", rag.DefaultMaxChunks, "number of chunks")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func (c *cli) sectionCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "section <name>",
		Short: "Print the grounding context for an application section",
		Long:  "Print the grounding context for an application section.\n\nSections: " + strings.Join(rag.Sections, ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := c.app.RAG.SectionContext(cmd.Context(), query, args[0])
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, map[string]string{
					"section":   args[0],
					"namespace": rag.SectionNamespace(args[0]),
					"context":   text,
				})
			}
			cmd.Println(text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "query the context is retrieved for (required)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <namespace>",
		Short: "Remove a namespace from the index and release its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := args[0]
			if err := c.app.RAG.DeleteNamespace(cmd.Context(), ns); err != nil {
				return err
			}
			if err := c.app.Catalog.Forget(cmd.Context(), ns); err != nil {
				return fmt.Errorf("forget %s: %w", ns, err)
			}
			cmd.Printf("deleted %s\n", ns)
			return nil
		},
	}
}

func (c *cli) ownersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "owners",
		Short: "List which document owns each namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := c.app.Catalog.List(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOut {
				if entries == nil {
					entries = []catalog.Entry{}
				}
				return c.printJSON(cmd, entries)
			}
			for _, e := range entries {
				cmd.Printf("%-40s %-40s %4d chunks  %s\n", e.Namespace, e.Document, e.Chunks, humanize.Time(e.IngestedAt))
			}
			return nil
		},
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
