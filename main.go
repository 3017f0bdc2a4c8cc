package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chatkit "github.com/edulms/chatkit/app"
	"github.com/edulms/chatkit/devserver"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer cancel()

	logger := chatkit.NewLogger()

	config, err := chatkit.LoadConfig()
	if err != nil {
		loader := &chatkit.DefaultConfigLoader{}
		config, err = loader.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}
	if err := config.Validate(); err != nil {
		fmt.Fprint(os.Stderr, chatkit.FormatValidationErrors(err))
		os.Exit(1)
	}

	srv, err := devserver.NewServer(&devserver.Options{
		Secret:         config.Server.Auth.Secret,
		SQLiteFile:     config.Server.SQLite.File,
		MigrationDir:   config.Server.SQLite.Migrations,
		UploadDir:      config.Server.UploadDir,
		AllowedOrigins: config.Server.AllowedOrigins,
	}, devserver.WithServerLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "start devserver: %v\n", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Server.Hostname, config.Server.Port),
		Handler: srv.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		srv.Close()
	}()

	logger.Info(fmt.Sprintf("devserver listening on %s", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
