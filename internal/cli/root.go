// Package cli 实现 intentctl 命令行：离线查看目录、调试意图解析与流程组合，并可通过 SDK 向运行中的服务发送命令。
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/semantic"
)

// Options 是全局参数。
type Options struct {
	Format      string
	ManifestDir string
}

// NewRootCommand 创建根命令。
func NewRootCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:           "intentctl",
		Short:         "Inspect and drive the OpenMCP intent orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ManifestDir, "manifests", "", "directory of extra app manifests")

	cmd.AddCommand(newCatalogCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newComposeCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

// snapshot 构建离线目录快照，包含可选的本地清单。
func (o *Options) snapshot(ctx context.Context) (*catalog.Snapshot, error) {
	catalogOpts := []catalog.Option{catalog.WithEnricher(semantic.NewGenerator())}
	if o.ManifestDir != "" {
		catalogOpts = append(catalogOpts, catalog.WithManifestSource(catalog.DirSource{Dir: o.ManifestDir}))
	}
	return catalog.New(catalogOpts...).Snapshot(ctx)
}

// emit 以 JSON 或文本输出结果。
func (o *Options) emit(w io.Writer, value any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
	text(w)
	return nil
}
