// Command relaynet-chat runs a relaynet server that fans every message out
// to a shared "lobby" group, exercising the group broadcast component
// (pkg/group) alongside the session and handshake layers.
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

	"github.com/zentalk/relaynet/pkg/group"
	"github.com/zentalk/relaynet/pkg/server"
	"github.com/zentalk/relaynet/pkg/session"
)

func main() {
	app := cli.NewApp()
	app.Name = "relaynet-chat"
	app.Usage = "run a relaynet server that broadcasts chat messages to a shared lobby"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: ":9444", Usage: "listen address"},
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

	var lobby *group.Group

	srv, err := server.New(cfg, server.Handlers{
		OnNewConnection: func(s *session.Session) {
			lobby.AddSession(s)
			color.Green("+ %x joined the lobby (%d present)", s.ID(), lobby.SessionCount())
		},
		OnReceivingMessage: func(m session.Message) {
			color.Cyan("<%x> %v", m.Session.ID(), m.Value)
			for _, err := range lobby.Send(m.Value) {
				color.Red("broadcast error: %v", err)
			}
		},
		OnReconnect: func(s *session.Session) {
			color.Yellow("~ %x reattached to the lobby", s.ID())
		},
		OnClientDisconnect: func(s *session.Session) {
			lobby.RemoveSession(s.ID())
			color.Magenta("- %x left the lobby (%d present)", s.ID(), lobby.SessionCount())
		},
	})
	if err != nil {
		return err
	}
	lobby = srv.CreateGroup("lobby")

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
	fmt.Println("║          relaynet-chat                ║")
	fmt.Println("╚══════════════════════════════════════╝")
	color.White("lobby listening on %s", addr)
}
