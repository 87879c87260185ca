package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/chatup/internal/devserver"
)

var (
	serveHost  string
	servePort  int
	serveUsers []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local development chat server",
	Long: `Starts an in-memory implementation of the chat service API with canned
replies, for trying the client without a backend.

Accounts are given as email:password[:name]. Without --user the demo account
` + devserver.DemoEmail + ` / ` + devserver.DemoPassword + ` is created.`,
	RunE: runServe,
}

func init() {
	defaults := devserver.DefaultSettings()
	serveCmd.Flags().StringVar(&serveHost, "host", defaults.Host, "Bind host")
	serveCmd.Flags().IntVar(&servePort, "port", defaults.Port, "Bind port")
	serveCmd.Flags().StringArrayVar(&serveUsers, "user", nil, "Account as email:password[:name] (repeatable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	settings := devserver.DefaultSettings()
	settings.Host = serveHost
	settings.Port = servePort
	settings.Accounts = nil
	for _, raw := range serveUsers {
		account, ok := devserver.ParseAccount(raw)
		if !ok {
			return fmt.Errorf("invalid --user %q, want email:password[:name]", raw)
		}
		settings.Accounts = append(settings.Accounts, account)
	}

	srv := devserver.NewServer(settings, devserver.WithLogger(logger.Named("devserver")))
	g, ctx := errgroup.WithContext(cmd.Context())
	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dev server listening on %s (ctrl+c to stop)\n", srv.BaseURL())
	g.Go(srv.Wait)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
