package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/text2sql/internal/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP JSON API",
	Long: `Serve exposes the pipeline over HTTP:

  POST /v1/ask            {"question": "..."}
  POST /v1/rewrite        {"question": "..."}
  POST /v1/correct        {"question": "...", "sql": "..."}
  POST /v1/feedback       {"question": "...", "verdict": "correct|incorrect"}
  GET  /v1/rules
  POST /v1/rules/reload
  GET  /v1/stats
  GET  /healthz`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default: server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, logger, err := openPipeline(ctx, cfg, zapcore.InfoLevel)
	if err != nil {
		return err
	}
	defer closePipeline(p, logger)

	fields := []zap.Field{zap.Int("rules", len(p.Rules()))}
	if p.Provider() != nil {
		fields = append(fields, zap.String("provider", p.Provider().Name()), zap.String("model", cfg.LLM.Model))
	}
	logger.Info("pipeline ready", fields...)

	return server.New(p, logger, cfg.Server.RequestTimeout).ListenAndServe(ctx, cfg.Server.Addr)
}
