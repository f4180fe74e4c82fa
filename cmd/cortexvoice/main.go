// CortexVoice is a voice-driven agent: it listens, thinks out loud, calls
// tools over MCP, and speaks its answers.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexvoice/internal/app"
	"github.com/normanking/cortexvoice/internal/logging"
)

var version = "dev"

func main() {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "cortexvoice",
		Short: "Voice-driven conversational agent",
		Long:  "CortexVoice listens on the microphone, runs user requests through an LLM with MCP tools, and speaks the answers - reasoning aloud at speed, answering at a natural pace.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := buildApp(configPath, logLevel)
			if err != nil {
				return err
			}
			defer logger.Close()
			return a.Run(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ~/.cortexvoice/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	ask := &cobra.Command{
		Use:   "ask [text]",
		Short: "Run one text turn without the microphone",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := buildApp(configPath, logLevel)
			if err != nil {
				return err
			}
			defer logger.Close()

			answer, err := a.RunOnce(context.Background(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cortexvoice %s\n", version)
		},
	}

	root.AddCommand(ask, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildApp(configPath, logLevel string) (*app.App, *logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if logLevel != "" {
		logCfg.Level = logging.LogLevel(logLevel)
	}

	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}

	a, err := app.New(configPath, logger)
	if err != nil {
		logger.Close() //nolint:errcheck
		return nil, nil, err
	}
	return a, logger, nil
}
