// Command relaynet-echo runs a minimal relaynet server that echoes every
// message it receives back to the session that sent it — the smallest
// possible exercise of the handshake, framed codec, and reconnect-tolerant
// session state machine end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/zentalk/relaynet/pkg/server"
	"github.com/zentalk/relaynet/pkg/session"
)

func main() {
	app := cli.NewApp()
	app.Name = "relaynet-echo"
	app.Usage = "run a relaynet session server that echoes received messages"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: ":9443", Usage: "listen address"},
		cli.StringFlag{Name: "admin-addr", Value: "", Usage: "admin HTTP API address, empty disables it"},
		cli.StringFlag{Name: "rsa-key", Value: "", Usage: "path to a PEM RSA private key, generated if missing"},
		cli.DurationFlag{Name: "reconnect-timeout", Value: 30 * time.Second, Usage: "grace period for a dropped transport to reattach"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		color.Red("fatal: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = c.String("addr")
	cfg.AdminAddr = c.String("admin-addr")
	cfg.RSAKeyPath = c.String("rsa-key")
	cfg.ReconnectTimeout = c.Duration("reconnect-timeout")

	srv, err := server.New(cfg, server.Handlers{
		OnNewConnection: func(s *session.Session) {
			color.Green("+ session %x connected", s.ID())
		},
		OnReceivingMessage: func(m session.Message) {
			color.Cyan("  %x says: %v", m.Session.ID(), m.Value)
			if err := m.Session.Send(m.Value); err != nil {
				color.Red("  echo failed for %x: %v", m.Session.ID(), err)
			}
		},
		OnReconnect: func(s *session.Session) {
			color.Yellow("~ session %x reattached", s.ID())
		},
		OnClientDisconnect: func(s *session.Session) {
			color.Magenta("- session %x closed", s.ID())
		},
	})
	if err != nil {
		return err
	}

	printBanner(cfg.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		color.Yellow("shutting down...")
		cancel()
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func printBanner(addr string) {
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          relaynet-echo                ║")
	fmt.Println("╚══════════════════════════════════════╝")
	color.White("listening on %s", addr)
}
