package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viant/mcp-protocol/schema"
	mcpsrv "github.com/viant/mcp/server"

	"synthia/internal/api"
	"synthia/internal/domain"
	smcp "synthia/internal/mcp"
)

func serveCmd(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := flags.String("config", "", "config yaml")
	httpAddr := flags.String("addr", "", "HTTP API address (default from config or :8000)")
	mcpAddr := flags.String("mcp-addr", "", "MCP server address (default from config; empty disables MCP)")
	_ = flags.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *mcpAddr != "" {
		cfg.Server.MCPAddr = *mcpAddr
	}

	svc, st, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	servers := []*http.Server{{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.NewServer(svc, cfg.Scorer.DefaultTopK).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}}
	log.Printf("synthia api listening on %s (namespace %s)", cfg.Server.HTTPAddr, svc.Namespace())

	if cfg.Server.MCPAddr != "" {
		server, err := newMCPServer(svc, cfg.Scorer.DefaultTopK,
			mcpsrv.WithEndpointAddress(cfg.Server.MCPAddr),
			mcpsrv.WithRootRedirect(true),
			mcpsrv.WithStreamableURI("/mcp"),
		)
		if err != nil {
			return err
		}
		server.UseStreamableHTTP(true)
		mcpHTTP := server.HTTP(ctx, cfg.Server.MCPAddr)
		mcpHTTP.ReadHeaderTimeout = 10 * time.Second
		mcpHTTP.IdleTimeout = 120 * time.Second
		servers = append(servers, mcpHTTP)
		log.Printf("synthia mcp listening on %s", mcpHTTP.Addr)
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			errCh <- srv.ListenAndServe()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("shutdown signal received: %v", sig)
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	for _, srv := range servers {
		if err := srv.Shutdown(ctxShutdown); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
	}
	log.Printf("synthia stopped")
	return err
}

// newMCPServer wires the fragment tools into a viant MCP server. Callers
// pick the transport.
func newMCPServer(svc domain.FragmentService, defaultTopK int, options ...mcpsrv.Option) (*mcpsrv.Server, error) {
	base := []mcpsrv.Option{
		mcpsrv.WithImplementation(schema.Implementation{Name: "synthia-mcp", Version: "0.1.0"}),
		mcpsrv.WithNewHandler(smcp.NewHandler(svc, defaultTopK)),
	}
	return mcpsrv.New(append(base, options...)...)
}

// mcpCmd serves the MCP tools over stdin/stdout for clients that spawn
// synthia as a subprocess. Logs go to stderr so stdout carries only
// protocol frames.
func mcpCmd(args []string) error {
	flags := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfgPath := flags.String("config", "", "config yaml")
	_ = flags.Parse(args)
	log.SetOutput(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, cfg, closeFn, err := openService(*cfgPath)
	defer closeFn()
	if err != nil {
		return err
	}
	server, err := newMCPServer(svc, cfg.Scorer.DefaultTopK)
	if err != nil {
		return err
	}
	log.Printf("synthia mcp serving on stdio (namespace %s)", svc.Namespace())
	if err := server.Stdio(ctx).ListenAndServe(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
