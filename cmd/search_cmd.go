package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/specmem/specmem/internal/search"
	"github.com/specmem/specmem/internal/store"
)

func searchCmd() *cobra.Command {
	var (
		jsonOutput    bool
		hybrid        bool
		noFallback    bool
		includeRecent int
		limit         int
		tags          []string
		types         []string
	)
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			filters := store.SearchFilters{Tags: tags}
			for _, t := range types {
				filters.Types = append(filters.Types, store.MemoryType(t))
			}

			resp, err := rt.search.Search(context.Background(), rt.cfg.Tenant,
				strings.Join(args, " "), filters, search.Options{
					Limit:           limit,
					Hybrid:          hybrid,
					KeywordFallback: !noFallback,
					IncludeRecent:   includeRecent,
				})
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(resp)
			}
			printSearchResponse(resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&hybrid, "hybrid", true, "fuse full-text rank into similarity")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "disable keyword fallback")
	cmd.Flags().IntVar(&includeRecent, "recent", 0, "also include N most recent memories")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (0 = config default)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "filter by tag (repeatable, OR)")
	cmd.Flags().StringSliceVar(&types, "type", nil, "filter by memory type")
	return cmd
}

func printSearchResponse(resp *search.Response) {
	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		if resp.Guidance != "" {
			fmt.Println("Hint:", resp.Guidance)
		}
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tSOURCE\tID\tEXCERPT")
	for _, r := range resp.Results {
		excerpt := r.Memory.Content
		if len(r.Highlights) > 0 {
			excerpt = r.Highlights[0]
		}
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", r.Similarity, r.Source, r.Memory.ID, excerpt)
	}
	w.Flush()
	if resp.Guidance != "" {
		fmt.Println("Hint:", resp.Guidance)
	}
}
