package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wscache/wscache/internal/server"
	"github.com/wscache/wscache/internal/toolproto"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin HTTP surface and the tool protocol over stdio",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("stdio", true, "Serve the tool protocol over stdin/stdout alongside the admin HTTP server")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	a.orch.StartupRefresh(ctx)

	srv := server.New(a.engine, a.orch, logFromApp(a))
	httpSrv := &http.Server{Addr: a.opts.AdminListenAddr, Handler: srv}

	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	stdio, _ := cmd.Flags().GetBool("stdio")
	if stdio {
		reg := toolproto.NewRegistry()
		tools := &toolproto.Tools{Engine: a.engine, Client: a.client, Enricher: a.enricher, Orchestrator: a.orch}
		tools.Register(reg)
		rpcSrv := toolproto.NewServer(os.Stdin, os.Stdout, reg, logFromApp(a))
		go func() {
			if err := rpcSrv.Run(ctx); err != nil {
				cancel()
			}
		}()
	}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
