package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/specmem/specmem/internal/embedding"
	"github.com/specmem/specmem/internal/store"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage individual memories",
	}
	cmd.AddCommand(memorySaveCmd())
	cmd.AddCommand(memoryGetCmd())
	cmd.AddCommand(memoryDeleteCmd())
	cmd.AddCommand(memoryRecentCmd())
	return cmd
}

func memorySaveCmd() *cobra.Command {
	var (
		memType    string
		importance string
		tags       []string
	)
	cmd := &cobra.Command{
		Use:   "save <content...>",
		Short: "Save a new memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := context.Background()

			content := strings.Join(args, " ")
			text := embedding.EmbedInput(content, rt.cfg.Embedding.MaxTokens)
			vec, err := rt.gateway.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embed content: %w", err)
			}

			m := &store.Memory{
				Content:    content,
				Type:       store.MemoryType(memType),
				Importance: store.Importance(importance),
				Tags:       tags,
				Embedding:  vec,
			}
			if err := rt.memories.CreateMemory(ctx, rt.cfg.Tenant, m); err != nil {
				return err
			}

			// Spatial placement is best-effort: the memory is saved either way.
			if q, err := rt.spatial.AssignQuadrant(ctx, rt.cfg.Tenant, m); err == nil {
				fmt.Printf("Quadrant: %s\n", q.Code)
			}
			if c, err := rt.spatial.AssignCluster(ctx, rt.cfg.Tenant, m); err == nil && c != nil {
				fmt.Printf("Cluster:  %s\n", c.Name)
			}

			fmt.Println("Saved", m.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&memType, "type", string(store.TypeSemantic), "memory type")
	cmd.Flags().StringVar(&importance, "importance", string(store.ImportanceMedium), "importance level")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	return cmd
}

func memoryGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid memory id: %w", err)
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			m, err := rt.memories.GetMemory(context.Background(), rt.cfg.Tenant, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}
}

func memoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id...>",
		Short: "Delete memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(args))
			for _, a := range args {
				id, err := uuid.Parse(a)
				if err != nil {
					return fmt.Errorf("invalid memory id %q: %w", a, err)
				}
				ids = append(ids, id)
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.memories.DeleteMemories(context.Background(), rt.cfg.Tenant, ids)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d of %d\n", n, len(ids))
			return nil
		},
	}
}

func memoryRecentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recently created memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			memories, err := rt.memories.RecentMemories(context.Background(), rt.cfg.Tenant, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tTYPE\tID\tCONTENT")
			for _, m := range memories {
				content := m.Content
				if len(content) > 60 {
					content = content[:60] + "…"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					m.CreatedAt.Format("2006-01-02 15:04"), m.Type, m.ID, content)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max memories")
	return cmd
}
