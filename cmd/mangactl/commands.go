package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/script"
	"github.com/iago/manga-creator-back/internal/status"
	"github.com/iago/manga-creator-back/internal/storyboard"
)

func newParseCommand(ctx *commandContext) *cobra.Command {
	var (
		title         string
		style         string
		local         bool
		splitDialogue bool
	)
	cmd := &cobra.Command{
		Use:   "parse <file|->",
		Short: "Parse a tagged script and store it",
		Long:  "Parse a tagged script. With --local the script is parsed in-process and its storyboard printed without contacting the API.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = defaultTitle(args[0])
			}
			out := cmd.OutOrStdout()

			if local {
				parsedStyle, ok := domain.ParseStyle(style)
				if !ok {
					return fmt.Errorf("unsupported style %q", style)
				}
				result := script.ParseScript(title, parsedStyle, content)
				fmt.Fprintln(out, scenesTable(result.Document.Scenes))
				printSkipped(out, result.Skipped)
				panels := storyboard.NewBuilder(storyboard.Options{SplitDialogue: splitDialogue}).Build(result.Document)
				fmt.Fprintln(out, storyboardTable(storyboard.Paginate(panels)))
				return nil
			}

			parsed, err := ctx.client().ParseScript(cmd.Context(), title, content, style)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "script %s stored (%d scenes, characters: %s)\n",
				parsed.ID, parsed.ParsedData.TotalScenes, strings.Join(parsed.ParsedData.CharacterList, ", "))
			fmt.Fprintln(out, scenesTable(parsed.ParsedData.Scenes))
			printSkipped(out, parsed.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Script title (defaults to the file name)")
	cmd.Flags().StringVar(&style, "style", "", "Art style: shounen, shoujo, seinen, comedy, horror")
	cmd.Flags().BoolVar(&local, "local", false, "Parse in-process instead of calling the API")
	cmd.Flags().BoolVar(&splitDialogue, "split-dialogue", false, "With --local, emit one panel per dialogue line")
	return cmd
}

func newStoryboardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "storyboard <script-id>",
		Short: "Show the paged storyboard of a stored script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := ctx.client().Storyboard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d panels on %d pages\n", board.TotalPanels, len(board.Pages))
			fmt.Fprintln(cmd.OutOrStdout(), storyboardTable(board.Pages))
			return nil
		},
	}
}

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var (
		style    string
		split    bool
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate <script-id>",
		Short: "Start rendering a stored script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var splitDialogue *bool
			if cmd.Flags().Changed("split-dialogue") {
				splitDialogue = &split
			}
			api := ctx.client()
			accepted, err := api.Generate(cmd.Context(), args[0], style, splitDialogue, uuid.NewString())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s (%d panels)\n", accepted.JobID, accepted.Status, accepted.TotalPanels)
			if !watch {
				return nil
			}
			return watchJob(cmd, ctx, accepted.JobID, interval)
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "Override the script style")
	cmd.Flags().BoolVar(&split, "split-dialogue", false, "One panel per dialogue line")
	cmd.Flags().BoolVar(&watch, "watch", false, "Poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --watch")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show generation progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return watchJob(cmd, ctx, args[0], interval)
			}
			snapshot, err := ctx.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snapshot)
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := ctx.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snapshot)
			return nil
		},
	}
}

func watchJob(cmd *cobra.Command, ctx *commandContext, jobID string, interval time.Duration) error {
	out := cmd.OutOrStdout()
	var last string
	final, err := ctx.client().Watch(cmd.Context(), jobID, interval, func(snapshot *status.Snapshot) {
		line := progressLine(snapshot)
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
	})
	if err != nil {
		return err
	}
	if final.ResultData != nil {
		fmt.Fprintln(out, resultTable(final.ResultData))
	}
	if final.Status == domain.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", jobID, final.ErrorMessage)
	}
	return nil
}

func printSnapshot(out io.Writer, snapshot *status.Snapshot) {
	fmt.Fprintf(out, "job %s (script %s, %s)\n", snapshot.JobID, snapshot.ScriptID, snapshot.Style)
	fmt.Fprintln(out, progressLine(snapshot))
	if snapshot.ResultData != nil {
		fmt.Fprintln(out, resultTable(snapshot.ResultData))
	}
}

func printSkipped(out io.Writer, skipped []script.SkippedSpan) {
	if len(skipped) == 0 {
		return
	}
	rows := make([][]string, 0, len(skipped))
	for _, span := range skipped {
		rows = append(rows, []string{fmt.Sprint(span.Line), span.Reason, truncate(span.Text, 60)})
	}
	fmt.Fprintln(out, renderTable([]string{"Line", "Skipped", "Text"}, rows, 1))
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

func defaultTitle(path string) string {
	if path == "-" {
		return "Untitled"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func truncate(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
