package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fluxorio/fluxtools/pkg/app"
	"github.com/fluxorio/fluxtools/pkg/async"
	"github.com/fluxorio/fluxtools/pkg/bridge"
	"github.com/fluxorio/fluxtools/pkg/config"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/diff"
	"github.com/fluxorio/fluxtools/pkg/hash"
	"github.com/spf13/cobra"
)

// withServices runs fn against services built from cfg and closes them.
func withServices(ctx context.Context, cfg config.Config, fn func(*app.Services) error) error {
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := core.JSONEncode(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newHashCmd(root *rootOptions) *cobra.Command {
	var (
		algorithm string
		text      string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "hash [FILE]",
		Short: "Hash a file, standard input or --text",
		Example: `  fluxtools hash --text hello
  fluxtools hash -a sha3-256 go.sum
  cat go.sum | fluxtools hash -a md5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			alg, err := hash.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return withServices(ctx, cfg, func(svc *app.Services) error {
				var (
					future *async.Future[hash.Result]
					name   string
				)
				switch {
				case cmd.Flags().Changed("text"):
					if len(args) > 0 {
						return fmt.Errorf("--text and FILE are exclusive")
					}
					future, name = svc.Hash.HashText(ctx, text, alg), "-"
				case len(args) == 1:
					data, err := os.ReadFile(args[0])
					if err != nil {
						return err
					}
					future, name = svc.Hash.HashFile(ctx, data, alg), args[0]
				default:
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return err
					}
					future, name = svc.Hash.HashFile(ctx, data, alg), "-"
				}

				res, err := bridge.Wait(ctx, future)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", res.Hash, name)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", string(hash.SHA256), "digest algorithm")
	cmd.Flags().StringVarP(&text, "text", "t", "", "hash this text instead of a file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newDiffCmd(root *rootOptions) *cobra.Command {
	var (
		unified bool
		lines   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "diff ORIGINAL MODIFIED",
		Short: "Compare two files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			original, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			modified, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return withServices(ctx, cfg, func(svc *app.Services) error {
				req := diff.Request{
					Original: string(original),
					Modified: string(modified),
					Unified:  unified || !asJSON,
					Context:  lines,
				}
				res, err := bridge.Wait(ctx, svc.Diff.CompareWith(ctx, req))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}

				out := cmd.OutOrStdout()
				fmt.Fprint(out, res.Unified)
				_, err = fmt.Fprintf(out, "%d added, %d removed, %d unchanged lines\n",
					res.Stats.LinesAdded, res.Stats.LinesRemoved, res.Stats.LinesUnchanged)
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&unified, "unified", "u", false, "include the unified rendering in --json output")
	cmd.Flags().IntVarP(&lines, "context", "U", 3, "context lines of the unified rendering")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}
