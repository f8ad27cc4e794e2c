package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nimburion/mds/pkg/health"
	"github.com/nimburion/mds/pkg/repository/document"
	"github.com/nimburion/mds/pkg/version"
)

// withApp loads the configuration, opens the connections and runs fn.
// Logs go to stderr so stdout carries only the command output.
func withApp(cmd *cobra.Command, opts Options, fn func(ctx context.Context, a *app) error) error {
	cfg, log, err := loadConfigAndLogger(cmd.Flags(), opts.EnvPrefix, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to close connections", "error", err)
		}
	}()
	return fn(ctx, a)
}

func newImportCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a serialized package with its medias, annotation types and annotations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readImportFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.engine.Import(ctx, data)
				if err != nil {
					return fmt.Errorf("import %s: %w", args[0], err)
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func readImportFile(path string) (document.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	var data document.Document
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse import file %s: %w", path, err)
	}
	if data == nil {
		return nil, fmt.Errorf("import file %s is empty", path)
	}
	return data, nil
}

func newReindexCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the package/media relationship index and report unmatched sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				snap, err := a.engine.Reindex(ctx)
				if err != nil {
					return fmt.Errorf("rebuild relationship index: %w", err)
				}
				media, packages := snap.Counts()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Media:     %d\n", media)
				fmt.Fprintf(out, "Packages:  %d\n", packages)
				fmt.Fprintf(out, "Unmatched: %d\n", len(snap.Unmatched()))

				if len(snap.Unmatched()) == 0 {
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PACKAGE\tREASON\tURL")
				for _, u := range snap.Unmatched() {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Package, u.Reason, u.URL)
				}
				return tw.Flush()
			})
		},
	}
}

func newHealthcheckCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the document store and Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result := a.healthRegistry().Check(ctx)
				if err := printHealth(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if !result.IsReady() {
					return errors.New("dependencies are not ready")
				}
				return nil
			})
		},
	}
}

func printHealth(out io.Writer, result health.AggregatedResult) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tDETAIL")
	for _, check := range result.Checks {
		detail := check.Message
		if check.Error != "" {
			detail = check.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", check.Name, check.Status, detail)
	}
	fmt.Fprintf(tw, "overall\t%s\t\n", result.Status)
	return tw.Flush()
}

func newConfigCommand(opts Options) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := loadConfig(cmd.Flags(), opts.EnvPrefix); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, provider, err := loadConfig(cmd.Flags(), opts.EnvPrefix)
			if err != nil {
				return err
			}
			formatted, err := formatSettings(provider.Settings())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			return nil
		},
	})
	return configCmd
}

func newVersionCommand(opts Options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, info)
			}
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			if built, ok := info.ParseBuildTime(); ok {
				fmt.Fprintf(out, "Built:      %s\n", built.Local().Format("2006-01-02 15:04 MST"))
			}
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
