package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/flow"
)

func newCatalogCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse the capability catalog",
	}

	var scope, group string
	list := &cobra.Command{
		Use:   "list",
		Short: "List endpoints, optionally by scope or group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := opts.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			var eps []catalog.Endpoint
			switch {
			case scope != "":
				eps = snap.ListByScope(scope)
			case group != "":
				eps = snap.ListByGroup(group)
			default:
				eps = snap.All()
			}
			return opts.emit(cmd.OutOrStdout(), eps, func(w io.Writer) { printEndpoints(w, eps) })
		},
	}
	list.Flags().StringVar(&scope, "scope", "", "only endpoints requiring this scope")
	list.Flags().StringVar(&group, "group", "", "only endpoints in this group")

	describe := &cobra.Command{
		Use:   "describe <key>",
		Short: "Show one endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			ep, ok := snap.Lookup(args[0])
			if !ok {
				return fmt.Errorf("endpoint %s does not exist", args[0])
			}
			return opts.emit(cmd.OutOrStdout(), ep, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%s)\n", ep.Key, ep.Group)
				if ep.Description != "" {
					fmt.Fprintf(w, "  %s\n", ep.Description)
				}
				fmt.Fprintf(w, "  scopes: %s\n", strings.Join(ep.Scopes, ", "))
				for _, name := range ep.Args.Names() {
					fmt.Fprintf(w, "  arg %s: %s\n", name, ep.Args[name])
				}
				if len(ep.Semantics.Phrases) > 0 {
					fmt.Fprintf(w, "  phrases: %s\n", strings.Join(ep.Semantics.Phrases, " | "))
				}
			})
		},
	}

	search := &cobra.Command{
		Use:   "search <text>",
		Short: "Substring search over keys, descriptions and semantics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			eps := snap.Search(strings.Join(args, " "))
			return opts.emit(cmd.OutOrStdout(), eps, func(w io.Writer) { printEndpoints(w, eps) })
		},
	}

	templates := &cobra.Command{
		Use:   "templates",
		Short: "List compound flow templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list := flow.DefaultTemplates()
			return opts.emit(cmd.OutOrStdout(), list, func(w io.Writer) {
				for _, t := range list {
					fmt.Fprintf(w, "%-20s %s\n", t.Name, strings.Join(t.Targets, " -> "))
				}
			})
		},
	}

	cmd.AddCommand(list, describe, search, templates)
	return cmd
}

func printEndpoints(w io.Writer, eps []catalog.Endpoint) {
	if len(eps) == 0 {
		fmt.Fprintln(w, "no endpoints")
		return
	}
	for _, ep := range eps {
		fmt.Fprintf(w, "%-32s %s\n", ep.Key, strings.Join(ep.Scopes, ","))
	}
}
