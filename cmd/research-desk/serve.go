// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/pipeline"
	"github.com/pdiddy/research-desk/internal/progress"
	"github.com/pdiddy/research-desk/internal/registry"
	"github.com/pdiddy/research-desk/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept research tasks from websocket clients",
	Long: `Serve listens for websocket clients on /ws. A client sends
{"type":"start","task":{...}} and receives a task_id event followed by the
task's progress events. A client that reconnects sends
{"type":"attach","task_id":"..."} to resume delivery, including events
produced while it was away. Feedback requests are answered with
{"type":"human_feedback","value":[...]}. Tasks with no client attached when
feedback is needed ask on the server's terminal instead.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()

	st := openStore(cfg)
	if st != nil {
		defer st.Close()
	}

	reg := registry.New(logger)
	defer reg.Close()
	router := progress.NewRouter(reg, logger)

	gate := &pipeline.Gate{
		Replies: reg,
		In:      os.Stdin,
		Out:     os.Stderr,
		Emitter: router,
		Log:     logger.Named("feedback"),
	}
	p, err := newPipeline(ctx, cfg, st, router, gate)
	if err != nil {
		return err
	}

	srv := server.New(reg, p, router,
		server.WithLogger(logger),
		server.WithWriteTimeout(cfg.Server.WriteTimeout))

	logger.Info("starting server", zap.String("addr", cfg.Server.Addr))
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8000)")
	serveCmd.Flags().Int("max-concurrency", 0, "maximum concurrent subtopic jobs per task (0 = unbounded)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.max_concurrency", serveCmd.Flags().Lookup("max-concurrency"))

	rootCmd.AddCommand(serveCmd)
}
