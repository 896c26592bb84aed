package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"OpenMCP-Intent/sdk/go/openmcp"
)

func newRunCommand(opts *Options) *cobra.Command {
	var (
		server  string
		wallet  string
		scopes  []string
		target  string
		narrate bool
	)
	cmd := &cobra.Command{
		Use:   "run [utterance]",
		Short: "Send a command to a running intentd",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" && target == "" {
				return fmt.Errorf("an utterance or --target is required")
			}
			if wallet == "" {
				return fmt.Errorf("--wallet is required")
			}
			client, err := openmcp.NewClient(server, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := client.StartSession(ctx, wallet); err != nil {
				return err
			}
			if len(scopes) > 0 {
				if _, err := client.Grant(ctx, scopes...); err != nil {
					return err
				}
			}
			resp, err := client.Run(ctx, openmcp.Command{Utterance: text, Target: target, Narrate: narrate})
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), resp, func(w io.Writer) { printResponse(w, resp) })
		},
	}
	defaultServer := os.Getenv("OPENMCP_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	cmd.Flags().StringVar(&server, "server", defaultServer, "intentd base URL")
	cmd.Flags().StringVar(&wallet, "wallet", os.Getenv("OPENMCP_WALLET"), "wallet address for the session")
	cmd.Flags().StringSliceVar(&scopes, "grant", nil, "scopes to grant before running")
	cmd.Flags().StringVar(&target, "target", "", "call this endpoint directly")
	cmd.Flags().BoolVar(&narrate, "narrate", false, "ask for a speakable narration")
	return cmd
}

func printResponse(w io.Writer, resp openmcp.Response) {
	status := "ok"
	if !resp.OK {
		status = "failed"
	}
	fmt.Fprintf(w, "[%s] %s (%s)\n", status, resp.Intent, resp.Source)
	fmt.Fprintln(w, resp.Message)
	for _, step := range resp.Steps {
		fmt.Fprintf(w, "  %-28s %s\n", step.Endpoint, step.Status)
	}
	if resp.Error != nil {
		fmt.Fprintf(w, "error %s/%s: %s\n", resp.Error.Category, resp.Error.Code, resp.Error.Message)
	}
	if resp.Narration != nil {
		fmt.Fprintf(w, "narration: %s\n", resp.Narration.Text)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
