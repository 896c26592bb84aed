package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/flow"
	"OpenMCP-Intent/internal/intent"
)

func newQueryCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "query <text>",
		Short: `Answer a catalog question such as "describe notes.create"`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, ok := catalog.ParseMetaQuery(strings.Join(args, " "))
			if !ok {
				return fmt.Errorf("not a catalog query: %s", strings.Join(args, " "))
			}
			snap, err := opts.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			result := snap.Answer(q)
			return opts.emit(cmd.OutOrStdout(), result, func(w io.Writer) {
				switch {
				case q.Kind == catalog.QueryTemplates:
					for _, t := range flow.DefaultTemplates() {
						fmt.Fprintln(w, t.Name)
					}
				case result.Endpoint != nil:
					fmt.Fprintf(w, "%s: %s\n", result.Endpoint.Key, result.Endpoint.Description)
				default:
					printEndpoints(w, result.Endpoints)
				}
			})
		},
	}
}

func newResolveCommand(opts *Options) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "resolve <utterance>",
		Short: "Show which endpoint a single utterance resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			res, ok := intent.NewResolver().Resolve(text, role, snap)
			if !ok {
				return fmt.Errorf("no endpoint matches %q", text)
			}
			return opts.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "%s via %s", res.Intent.Feature, res.Intent.Source)
				if res.Intent.Rule != "" {
					fmt.Fprintf(w, " (%s)", res.Intent.Rule)
				}
				if res.Match != nil {
					fmt.Fprintf(w, " score=%.2f", res.Match.Score)
				}
				fmt.Fprintln(w)
				for _, k := range sortedKeys(res.Intent.Constraints) {
					fmt.Fprintf(w, "  %s = %v\n", k, res.Intent.Constraints[k])
				}
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "caller role")
	return cmd
}

func newComposeCommand(opts *Options) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "compose <utterance>",
		Short: "Show the ordered steps a multi-clause utterance becomes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			composed := flow.NewComposer(intent.NewResolver()).Compose(strings.Join(args, " "), role, snap)
			return opts.emit(cmd.OutOrStdout(), composed, func(w io.Writer) {
				fmt.Fprintln(w, composed.Explanation)
				for i, step := range composed.Steps {
					fmt.Fprintf(w, "%d. %s %v\n", i+1, step.Endpoint, step.Args)
				}
				for _, frag := range composed.Fragments {
					if !frag.Resolved {
						fmt.Fprintf(w, "unresolved: %q\n", frag.Text)
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "caller role")
	return cmd
}
