package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/4thel00z/provenance/internal"
	"github.com/spf13/cobra"
)

// NoMatchIndicator is what frontend mode prints when no commit overlaps
// the query tree. It is a result, not an error: the run still exits zero.
const NoMatchIndicator = "no-match"

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "prov [flags] <repository> [<tree>]",
		Short: "Find the commits that produced a piece of content",
		Long: `Index a repository's history by file content and query it in two ways.

With a <tree> argument, read every file under that directory and print the
commit whose snapshot best matches it (frontend mode). Without one, read
hex blob ids from stdin and print, per line, the commits containing that
exact content (backend mode).`,
		Version:       version,
		Args:          cobra.RangeArgs(1, 2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          run,
	}

	rootCmd.Flags().Bool("head-only", false, "Only traverse commits reachable from the current head")
	rootCmd.Flags().String("cache-path", "", "Load the index from this file, or write it there after a fresh build")
	rootCmd.Flags().Bool("no-compact", false, "Keep the uncompacted index representation (more memory, faster build)")
	rootCmd.Flags().Int("workers", 0, "Tree flattening workers (default: one per CPU)")
	rootCmd.Flags().Float64("min-score", 0, "Minimum overlap fraction for a reconstruction match")
	rootCmd.Flags().Bool("verbose", false, "Report progress on stderr")

	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	repoPath := args[0]

	cfg, err := internal.LoadConfig(repoPath)
	if err != nil {
		return err
	}

	headOnly, _ := cmd.Flags().GetBool("head-only")
	cachePath, _ := cmd.Flags().GetString("cache-path")
	noCompact, _ := cmd.Flags().GetBool("no-compact")
	verbose, _ := cmd.Flags().GetBool("verbose")

	workers := cfg.Workers
	if cmd.Flags().Changed("workers") {
		workers, _ = cmd.Flags().GetInt("workers")
	}
	minScore := cfg.MinScore
	if cmd.Flags().Changed("min-score") {
		minScore, _ = cmd.Flags().GetFloat64("min-score")
	}
	if minScore < 0 || minScore > 1 {
		return fmt.Errorf("min-score %v outside [0,1]", minScore)
	}

	repo, err := internal.OpenRepository(repoPath)
	if err != nil {
		return err
	}

	var progress io.Writer
	if verbose {
		progress = cmd.ErrOrStderr()
	}

	idx, err := internal.LoadOrBuild(repo, cachePath, internal.BuildOptions{
		HeadOnly: headOnly,
		Compact:  !noCompact,
		Workers:  workers,
		Progress: progress,
	})
	if err != nil {
		return err
	}

	if len(args) == 2 {
		return runFrontend(cmd, idx, args[1], internal.Policy{MinScore: minScore})
	}
	return internal.Serve(idx, cmd.InOrStdin(), cmd.OutOrStdout())
}

func runFrontend(cmd *cobra.Command, idx *internal.Index, treePath string, pol internal.Policy) error {
	query, err := internal.FlattenDir(treePath)
	if err != nil {
		return err
	}

	match, err := internal.Reconstruct(idx, query, pol)
	if errors.Is(err, internal.ErrNoMatch) {
		fmt.Fprintln(cmd.OutOrStdout(), NoMatchIndicator)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), match.Commit.String())
	fmt.Fprintf(cmd.ErrOrStderr(), "matched %d of %d files (score %.3f)\n", match.Hits, len(query), match.Score)
	return nil
}
