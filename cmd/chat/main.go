// Command chat is a terminal client for the amana chat server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/PaulBabatuyi/amana-chat/internal/apiclient"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/realtime"
	"github.com/PaulBabatuyi/amana-chat/internal/room"
)

type options struct {
	server  string
	channel string
	history int
	color   bool
	verbose bool
}

func parseFlags(args []string) (options, error) {
	def := os.Getenv("CHAT_SERVER_URL")
	if def == "" {
		def = "http://localhost:8080"
	}

	var o options
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.StringVar(&o.server, "server", def, "chat server base URL (env CHAT_SERVER_URL)")
	fs.StringVar(&o.channel, "channel", "global-chat", "realtime channel to join")
	fs.IntVar(&o.history, "history", data.DefaultHistoryLimit, "messages of history to load")
	fs.BoolVar(&o.color, "color", term.IsTerminal(int(os.Stdout.Fd())), "colour user names")
	fs.BoolVar(&o.verbose, "v", false, "log diagnostics to stderr")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	api, err := apiclient.New(opts.server, logger)
	if err != nil {
		return err
	}
	con := newConsole(in, out)
	con.Printf("Amana chat (%s)\n", opts.server)

	for {
		user, err := authenticate(ctx, api, con)
		if err != nil {
			if errors.Is(err, errQuit) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = chatSession(ctx, api, con, user, opts, logger)
		switch {
		case errors.Is(err, errLogout):
			if err := api.Logout(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("Logout failed")
			}
			con.Println("Signed out.")
		case errors.Is(err, room.ErrReauthenticate):
			con.Println("Your session has expired, please sign in again.")
		case err != nil:
			return err
		default:
			return nil
		}
	}
}

// chatSession mounts the room as user and runs the chat loop until the user
// leaves. The room is always closed before returning.
func chatSession(ctx context.Context, api *apiclient.Client, con *console, user *data.SessionUser, opts options, logger zerolog.Logger) error {
	p := newPrinter(con.out, user.ID, opts.color)
	bridge := realtime.NewBridge(api.RealtimeURL(), api, logger)
	r := room.New(room.Config{
		Identity:     room.Identity{ID: user.ID, Name: user.Name},
		Store:        api,
		Connector:    room.NewBridgeConnector(bridge, opts.channel),
		HistoryLimit: opts.history,
		Logger:       logger,
		OnChange:     p.Render,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("Room close failed")
		}
	}()

	con.Printf("Signed in as %s. Joining #%s...\n", colorName(user.Name, opts.color), opts.channel)
	if err := r.Mount(ctx); err != nil {
		if errors.Is(err, room.ErrReauthenticate) {
			return err
		}
		return fmt.Errorf("join room: %w", err)
	}

	v := r.Snapshot()
	if v.LastError != nil {
		con.Println("!", describe(v.LastError))
	}
	con.Println(formatMembers(v.Members, user.ID, opts.color))
	con.Println("Type /help for commands.")

	return runChat(ctx, r, con, user.ID, opts.color)
}
