// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-desk/internal/export"
	"github.com/pdiddy/research-desk/internal/pipeline"
	"github.com/pdiddy/research-desk/internal/progress"
	"github.com/pdiddy/research-desk/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one research task in the terminal",
	Long: `Run executes a single task without a client. Progress is logged to
stderr and the final report is rendered to stdout. The task comes from
--task-file (YAML with the same keys as a websocket start message) and/or
flags; flags override the file. With --feedback the proposed plan is shown
and one line of feedback is read from stdin.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	task, err := taskFromFlags(cmd)
	if err != nil {
		return err
	}
	if task.Query == "" {
		return fmt.Errorf("a query is required: use --query or --task-file")
	}

	cfg := loadConfig()
	st := openStore(cfg)
	if st != nil {
		defer st.Close()
	}

	width, _ := cmd.Flags().GetInt("width")
	var consoleOpts []progress.ConsoleOption
	if plain, _ := cmd.Flags().GetBool("plain"); !plain {
		consoleOpts = append(consoleOpts, progress.WithMarkdown(width))
	}
	console := progress.NewConsole(os.Stdout, logger.Named("task"), consoleOpts...)

	gate := &pipeline.Gate{In: os.Stdin, Out: os.Stderr, Emitter: console, Log: logger.Named("feedback")}
	p, err := newPipeline(ctx, cfg, st, console, gate)
	if err != nil {
		return err
	}

	state, err := p.Run(ctx, uuid.NewString(), task)
	if err != nil {
		return err
	}
	for _, path := range state.Published {
		fmt.Fprintln(os.Stderr, "published:", path)
	}
	return nil
}

// taskFromFlags loads --task-file, then applies every flag that was set.
func taskFromFlags(cmd *cobra.Command) (types.TaskConfig, error) {
	var task types.TaskConfig
	if path, _ := cmd.Flags().GetString("task-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return task, fmt.Errorf("reading task file: %w", err)
		}
		if err := yaml.Unmarshal(data, &task); err != nil {
			return task, fmt.Errorf("parsing task file %s: %w", path, err)
		}
	}

	f := cmd.Flags()
	if f.Changed("query") {
		task.Query, _ = f.GetString("query")
	}
	if f.Changed("style") {
		s, _ := f.GetString("style")
		task.ReportStyle = types.ReportStyle(s)
	}
	if f.Changed("max-sections") {
		n, _ := f.GetInt("max-sections")
		task.MaxSections = types.Int(n)
	}
	if f.Changed("max-revisions") {
		n, _ := f.GetInt("max-revisions")
		task.MaxRevisions = types.Int(n)
	}
	if f.Changed("feedback") {
		task.IncludeHumanFeedback, _ = f.GetBool("feedback")
	}
	if f.Changed("feedback-timeout") {
		task.FeedbackTimeout, _ = f.GetDuration("feedback-timeout")
	}
	if f.Changed("model") {
		task.Model, _ = f.GetString("model")
	}
	if f.Changed("tone") {
		task.Tone, _ = f.GetString("tone")
	}
	if f.Changed("agent") {
		task.AgentID, _ = f.GetString("agent")
	}
	if f.Changed("source-url") {
		task.SourceURLs, _ = f.GetStringSlice("source-url")
	}
	if f.Changed("domain") {
		task.IncludeDomains, _ = f.GetStringSlice("domain")
	}
	if f.Changed("guideline") {
		task.Guidelines, _ = f.GetStringArray("guideline")
		task.FollowGuidelines = true
	}
	if f.Changed("verbose-layout") {
		task.Verbose, _ = f.GetBool("verbose-layout")
	}
	if f.Changed("format") {
		formats, _ := f.GetStringSlice("format")
		task.PublishFormats = types.PublishFormats{}
		for _, name := range formats {
			switch name {
			case export.FormatMarkdown, "md":
				task.PublishFormats.Markdown = true
			case export.FormatPDF:
				task.PublishFormats.PDF = true
			case export.FormatDOCX:
				task.PublishFormats.DOCX = true
			default:
				return task, fmt.Errorf("unknown format %q (want markdown, pdf or docx)", name)
			}
		}
	}
	if len(task.PublishFormats.Requested()) == 0 {
		task.PublishFormats.Markdown = true
	}
	if err := task.WithDefaults().Validate(); err != nil {
		return task, err
	}
	return task, nil
}

// addTaskFlags registers the per-task flags read by taskFromFlags.
func addTaskFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("task-file", "", "YAML task definition")
	f.String("query", "", "research question")
	f.String("style", "", `report style: "detailed report", "summary", "policy brief", "landscape analysis", "research paper brief"`)
	f.Int("max-sections", 0, "maximum number of subtopics (default 5)")
	f.Int("max-revisions", 0, "maximum review/revise rounds per subtopic; 0 disables revision (default 2)")
	f.Bool("feedback", false, "ask for feedback on the plan before composing")
	f.Duration("feedback-timeout", 0, "how long to wait for feedback from a client (0 waits forever)")
	f.String("model", "", "generation model name")
	f.String("tone", "", "writing tone, e.g. objective or analytical")
	f.String("agent", "", "stored agent id")
	f.StringSlice("source-url", nil, "research only these pages")
	f.StringSlice("domain", nil, "keep only sources from these domains")
	f.StringArray("guideline", nil, "writing guideline (repeatable); enables header revision")
	f.StringSlice("format", []string{"markdown"}, "publish formats: markdown, pdf, docx")
	f.Bool("verbose-layout", false, "log the composed layout as an event")
}

func init() {
	addTaskFlags(runCmd)
	runCmd.Flags().Int("width", 100, "word wrap width for the rendered report")
	runCmd.Flags().Bool("plain", false, "print the report as raw markdown")

	rootCmd.AddCommand(runCmd)
}
