package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/censusgdb/pkg/api"
	"github.com/hazyhaar/censusgdb/pkg/chassis"
	"github.com/hazyhaar/censusgdb/pkg/sources"
	"github.com/hazyhaar/censusgdb/pkg/variables"
	"github.com/mark3labs/mcp-go/server"
)

// deps opens the stores behind the query API. The returned func closes them.
func (a *app) deps() (api.Deps, func(), error) {
	pc := a.context(a.cfg.Years[0])
	vs, err := variables.OpenStore(a.path(a.cfg.DBPath))
	if err != nil {
		return api.Deps{}, nil, err
	}
	db, err := a.openSources()
	if err != nil {
		vs.Close()
		return api.Deps{}, nil, err
	}
	d := api.Deps{
		CodebookDir: pc.CodebookDir(),
		CatalogPath: pc.CatalogPath(),
		Variables:   vs,
		Sources:     db,
		Logger:      a.logger,
	}
	return d, func() { db.Close(); vs.Close() }, nil
}

func cmdServe(args []string) error {
	fs, common := newFlagSet("serve")
	addr := fs.String("addr", "", "listen address (default from config)")
	checkEvery := fs.Duration("check-interval", 0, "probe sources in the background at this interval (0: off)")
	useTLS := fs.Bool("tls", false, "serve HTTP/2 over TLS plus HTTP/3 and MCP over QUIC on the same port")
	certFile := fs.String("cert", "", "TLS certificate (default: self-signed)")
	keyFile := fs.String("key", "", "TLS private key")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	if *addr == "" {
		*addr = a.cfg.ServeAddr
	}
	d, closeFn, err := a.deps()
	if err != nil {
		return err
	}
	defer closeFn()

	// SIGHUP: probe sources now.
	// SIGINT/SIGTERM: graceful shutdown.
	ctx, stop := signalContext()
	defer stop()

	checker := sources.NewChecker(d.Sources, a.logger, *checkEvery)
	if *checkEvery > 0 {
		go checker.Start(ctx)
	}
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				a.logger.Info("SIGHUP received, checking sources")
				checker.CheckAll(ctx)
			}
		}
	}()

	if *useTLS {
		return serveChassis(ctx, a, d, *addr, *certFile, *keyFile)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("censusgdb listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serveChassis runs the query API and the MCP tools on the dual transport
// chassis until ctx is done.
func serveChassis(ctx context.Context, a *app, d api.Deps, addr, certFile, keyFile string) error {
	tools := server.NewMCPServer("censusgdb", version, server.WithToolCapabilities(false))
	api.RegisterMCPTools(tools, d)

	ch, err := chassis.New(chassis.Config{
		Addr:     addr,
		CertFile: certFile,
		KeyFile:  keyFile,
		Handler:  api.NewRouter(d),
		MCP:      tools,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	err = ch.Start(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(err, ch.Stop(shutdownCtx))
}

func cmdMCP(args []string) error {
	fs, common := newFlagSet("mcp")
	fs.Parse(args)

	a, err := common.load()
	if err != nil {
		return err
	}
	d, closeFn, err := a.deps()
	if err != nil {
		return err
	}
	defer closeFn()

	srv := server.NewMCPServer("censusgdb", version, server.WithToolCapabilities(false))
	api.RegisterMCPTools(srv, d)
	a.logger.Info("serving MCP over stdio")
	return server.ServeStdio(srv)
}
