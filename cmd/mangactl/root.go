package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/iago/manga-creator-back/internal/client"
)

type commandContext struct {
	server string
	token  string
}

func (c *commandContext) client() *client.Client {
	return client.New(c.server, c.token, nil)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "mangactl",
		Short:         "Operate the manga creator API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.server, "server", envOr("MANGA_API_URL", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&ctx.token, "token", os.Getenv("API_AUTH_TOKEN"), "Bearer token for /api routes")

	rootCmd.AddCommand(newParseCommand(ctx))
	rootCmd.AddCommand(newStoryboardCommand(ctx))
	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newBenchCommand(ctx))

	return rootCmd
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
