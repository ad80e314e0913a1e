// ABOUTME: xeno-admin knowledge subcommands
// ABOUTME: Lists, shows, searches and extends the gateway's knowledge graph

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/xeno-gateway/internal/gateway"
	"github.com/2389/xeno-gateway/internal/store"
)

func newKnowledgeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "knowledge",
		Aliases: []string{"kg"},
		Short:   "Browse and edit the knowledge graph",
	}
	cmd.AddCommand(
		newKnowledgeListCmd(opts),
		newKnowledgeShowCmd(opts),
		newKnowledgeSearchCmd(opts),
		newKnowledgeAddNodeCmd(opts),
		newKnowledgeLinkCmd(opts),
	)
	return cmd
}

func newKnowledgeListCmd(opts *rootOptions) *cobra.Command {
	var (
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List nodes and the edges touching them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			graph, err := c.KnowledgeGraph(cmd.Context(), category, limit)
			if err != nil {
				return err
			}
			if len(graph.Nodes) == 0 {
				fmt.Fprintln(opts.out, "No nodes.")
				return nil
			}
			if err := printNodes(opts.out, graph.Nodes); err != nil {
				return err
			}

			fmt.Fprintf(opts.out, "\n%d edges\n", len(graph.Edges))
			for _, e := range graph.Edges {
				fmt.Fprintf(opts.out, "  %d -[%s %.2g]-> %d\n", e.SourceID, e.RelationshipType, e.Weight, e.TargetID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "only nodes in this category")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum nodes (gateway default 100)")
	return cmd
}

func newKnowledgeShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <node-id>",
		Short: "Show a node and its connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			got, err := c.KnowledgeNode(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := opts.out
			cyan := color.New(color.FgCyan)
			cyan.Fprintf(out, "%s", got.Node.Title)
			if got.Node.Category != "" {
				fmt.Fprintf(out, " (%s)", got.Node.Category)
			}
			fmt.Fprintf(out, "\n%s\n", indent(got.Node.Content))
			if len(got.Connections) == 0 {
				fmt.Fprintln(out, "\nNo connections.")
				return nil
			}
			fmt.Fprintln(out)
			for _, conn := range got.Connections {
				fmt.Fprintf(out, "  %s -[%s]-> %s\n", conn.SourceTitle, conn.Edge.RelationshipType, conn.TargetTitle)
			}
			return nil
		},
	}
}

func newKnowledgeSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find nodes by title or content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			found, err := c.SearchKnowledge(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if found.Count == 0 {
				fmt.Fprintln(opts.out, "No matches.")
				return nil
			}
			return printNodes(opts.out, found.Results)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (gateway default 20)")
	return cmd
}

func newKnowledgeAddNodeCmd(opts *rootOptions) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "add-node <title> <content...>",
		Short: "Add a node",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			node, err := c.CreateKnowledgeNode(cmd.Context(), gateway.CreateKnowledgeNodeRequest{
				Title:    args[0],
				Content:  strings.Join(args[1:], " "),
				Category: category,
			})
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprint(opts.out, "  ✓ ")
			fmt.Fprintf(opts.out, "Created node %d (%s)\n", node.ID, node.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "node category")
	return cmd
}

func newKnowledgeLinkCmd(opts *rootOptions) *cobra.Command {
	var weight float64
	cmd := &cobra.Command{
		Use:   "link <source-id> <relationship> <target-id>",
		Short: "Link two nodes",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			dst, err := parseNodeID(args[2])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			req := gateway.CreateKnowledgeEdgeRequest{SourceID: src, TargetID: dst, RelationshipType: args[1]}
			if cmd.Flags().Changed("weight") {
				req.Weight = &weight
			}
			edge, err := c.CreateKnowledgeEdge(cmd.Context(), req)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprint(opts.out, "  ✓ ")
			fmt.Fprintf(opts.out, "Linked %d -[%s]-> %d (edge %d)\n", edge.SourceID, edge.RelationshipType, edge.TargetID, edge.ID)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&weight, "weight", "w", 1, "edge weight")
	return cmd
}

func printNodes(out io.Writer, nodes []*store.KnowledgeNode) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tCONTENT")
	for _, n := range nodes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", n.ID, truncate(n.Title, 30), n.Category, truncate(n.Content, 50))
	}
	return w.Flush()
}

func parseNodeID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid node id %q", raw)
	}
	return id, nil
}
