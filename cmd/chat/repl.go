package main

import (
	"context"
	"errors"
	"strings"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/room"
)

var (
	errQuit   = errors.New("quit")
	errLogout = errors.New("logout")
)

// authAPI is the part of the API client the sign-in prompt needs.
type authAPI interface {
	Login(ctx context.Context, email, password string) (*data.SessionUser, error)
	Register(ctx context.Context, email, name, password string) (*data.SessionUser, error)
}

// chatRoom is the part of room.Synchronizer the chat loop drives.
type chatRoom interface {
	Send(ctx context.Context, text string) error
	SetTyping(ctx context.Context, typing bool) error
	Snapshot() room.View
}

// describe turns an API failure into a line for the user.
func describe(err error) string {
	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, apperr.ErrUnauthorized):
		return "Invalid email or password"
	case errors.Is(err, apperr.ErrDuplicateEmail):
		return "Email already registered"
	case errors.Is(err, apperr.ErrRateLimited):
		return "Too many attempts, please try again later"
	case errors.Is(err, apperr.ErrMisconfigured):
		return "The server is misconfigured"
	case errors.Is(err, apperr.ErrTransient):
		return "The server is unavailable, please try again"
	default:
		return err.Error()
	}
}

// authenticate loops on the sign-in prompt until a login or registration
// succeeds. It returns errQuit when the user leaves.
func authenticate(ctx context.Context, api authAPI, con *console) (*data.SessionUser, error) {
	con.Println("Commands: login, register, quit")
	for {
		cmd, err := con.Ask(ctx, "amana")
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(cmd) {
		case "":
			continue

		case "login", "l":
			email, err := con.Ask(ctx, "Email")
			if err != nil {
				return nil, err
			}
			password, err := con.AskSecret(ctx, "Password")
			if err != nil {
				return nil, err
			}
			user, err := api.Login(ctx, email, password)
			if err != nil {
				con.Println("!", describe(err))
				continue
			}
			return user, nil

		case "register", "r":
			email, err := con.Ask(ctx, "Email")
			if err != nil {
				return nil, err
			}
			name, err := con.Ask(ctx, "Display name")
			if err != nil {
				return nil, err
			}
			password, err := con.AskSecret(ctx, "Password (8-72 characters)")
			if err != nil {
				return nil, err
			}
			user, err := api.Register(ctx, email, name, password)
			if err != nil {
				con.Println("!", describe(err))
				continue
			}
			return user, nil

		case "quit", "exit", "q":
			return nil, errQuit

		default:
			con.Println("Unknown command:", cmd)
		}
	}
}

const chatHelp = `Type a message and press Enter to send it.
  /who      show who is online
  /typing   tell others you are typing (sending a message clears it)
  /stop     clear the typing indicator
  /logout   sign out
  /quit     leave`

// runChat reads input lines until the user leaves. It returns nil on /quit
// or end of input, errLogout on /logout and room.ErrReauthenticate when the
// session has expired.
func runChat(ctx context.Context, r chatRoom, con *console, selfID string, color bool) error {
	for {
		line, err := con.ReadLine(ctx)
		if err != nil {
			// end of input or interrupted
			return nil
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cmd, _, _ := strings.Cut(line, " ")
			switch strings.ToLower(cmd) {
			case "/help", "/?":
				con.Println(chatHelp)
			case "/who":
				con.Println(formatMembers(r.Snapshot().Members, selfID, color))
			case "/typing":
				if err := r.SetTyping(ctx, true); err != nil {
					con.Println("!", err)
				}
			case "/stop":
				if err := r.SetTyping(ctx, false); err != nil {
					con.Println("!", err)
				}
			case "/logout":
				return errLogout
			case "/quit", "/exit":
				return nil
			default:
				con.Println("Unknown command:", cmd, "(try /help)")
			}
			continue
		}

		switch err := r.Send(ctx, line); {
		case err == nil, errors.Is(err, room.ErrEmptyMessage):
		case errors.Is(err, room.ErrReauthenticate):
			return room.ErrReauthenticate
		default:
			con.Println("! message not sent:", describe(err))
		}
	}
}
