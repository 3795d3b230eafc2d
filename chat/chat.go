// Package chat bridges the Twitch IRC transport to the bot contract:
// explicit commands behind a prefix, passive track/album link detection on
// every message, and a greeting when the bot joins a channel.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/soulfulhiker/spotlink/bot"
	"github.com/soulfulhiker/spotlink/config"
	"github.com/soulfulhiker/spotlink/telemetry"
)

// Run connects the chat client and blocks until ctx is cancelled. The caller
// is expected to have validated chat credentials beforehand.
func Run(ctx context.Context, cfg *config.Config, b *bot.Bot) {
	client := twitch.NewClient(cfg.ChatBotUsername, cfg.ChatOAuthToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		reply := dispatch(ctx, b, cfg.CommandPrefix, msg.Channel, msg.User.Name, msg.Message)
		if reply != "" {
			client.Say(msg.Channel, reply)
		}
	})

	client.OnUserJoinMessage(func(msg twitch.UserJoinMessage) {
		// Only the bot's own join marks room activity; other joins are noise.
		if !strings.EqualFold(msg.User, cfg.ChatBotUsername) {
			return
		}
		greeting, err := b.HandleJoin(ctx, msg.Channel, time.Now().UTC())
		if err != nil {
			slog.Error("join handling failed", slog.String("room", msg.Channel), slog.Any("err", err))
			return
		}
		if greeting != "" {
			client.Say(msg.Channel, greeting)
		}
	})

	for _, ch := range cfg.ChatChannels {
		client.Join(ch)
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	slog.Info("chat bridge connecting", slog.Any("channels", cfg.ChatChannels))
	if err := client.Connect(); err != nil && ctx.Err() == nil {
		slog.Error("chat connect error", slog.Any("err", err))
	}
	<-done
}

// dispatch routes one chat line: prefixed commands first, then the passive
// share listener. An empty reply means stay silent.
func dispatch(ctx context.Context, b *bot.Bot, prefix, roomID, userID, message string) string {
	if cmd, arg, ok := parseCommand(prefix, message); ok {
		switch cmd {
		case "login":
			reply, err := b.Login(userID)
			if err != nil {
				slog.Error("login link mint failed", slog.String("user", userID), slog.Any("err", err))
				return "Something went wrong, try again later."
			}
			return reply
		case "playlist":
			reply, err := b.SetRoomPlaylist(ctx, roomID, userID, arg)
			if err != nil {
				slog.Error("set playlist failed", slog.String("room", roomID), slog.Any("err", err))
				return "Something went wrong, try again later."
			}
			return reply
		case "help", "":
			return b.Help()
		default:
			return b.Help()
		}
	}

	reply, handled, err := b.HandleShare(ctx, roomID, userID, message)
	if err != nil {
		telemetry.LogWith(ctx).Error("share handling failed",
			slog.String("room", roomID), slog.String("user", userID), slog.Any("err", err))
		return ""
	}
	if !handled {
		return ""
	}
	return reply
}

// parseCommand splits a prefixed chat line into command and argument.
// "!spotify playlist <link>" yields ("playlist", "<link>", true); a line not
// starting with the prefix yields ok=false.
func parseCommand(prefix, message string) (cmd, arg string, ok bool) {
	msg := strings.TrimSpace(message)
	if prefix == "" || !strings.HasPrefix(msg, prefix) {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(msg, prefix))
	parts := strings.SplitN(rest, " ", 2)
	cmd = strings.ToLower(parts[0])
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg, true
}
