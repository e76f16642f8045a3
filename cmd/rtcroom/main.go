package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/iabtm/rtc-core/internal/bus"
	"github.com/iabtm/rtc-core/internal/config"
	"github.com/iabtm/rtc-core/internal/ratelimit"
	"github.com/iabtm/rtc-core/internal/recency"
	"github.com/iabtm/rtc-core/internal/session"
	"github.com/iabtm/rtc-core/internal/transport"
	"github.com/iabtm/rtc-core/lib/logger/sl"
	"github.com/iabtm/rtc-core/lib/logger/slogpretty"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	_ = godotenv.Load(".env")

	var (
		roomID      string
		userID      string
		displayName string
	)
	flag.StringVar(&roomID, "room", "", "room id to join")
	flag.StringVar(&userID, "user", "", "user id (generated when empty)")
	flag.StringVar(&displayName, "name", "guest", "display name")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	if roomID == "" {
		log.Error("room id is required, pass -room")
		os.Exit(1)
	}
	if userID == "" {
		userID = uuid.New().String()
	}

	if err := run(cfg, log, roomID, userID, displayName); err != nil {
		log.Error("session ended with error", sl.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, roomID, userID, displayName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := recency.OpenBadgerStore(cfg.Recency.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	recent, err := recency.New(userID, cfg.Recency.Capacity, store, log)
	if err != nil {
		return err
	}
	recent.Put(recency.Entry{
		ConversationID: roomID,
		Type:           recency.ConversationGroup,
		Name:           roomID,
		LastViewed:     time.Now().UTC(),
	})

	url := strings.TrimRight(cfg.Relay.URL, "/") + "/rooms/" + roomID + "/ws"
	tr, err := transport.Dial(ctx, url, log)
	if err != nil {
		return err
	}

	sess, err := session.New(session.Config{
		UserID:           userID,
		DisplayName:      displayName,
		RoomID:           roomID,
		STUNServers:      cfg.WebRTC.STUNServers,
		Policies:         policiesFromConfig(cfg.Limits),
		VoiceWindow:      cfg.Voice.Window,
		SpeakThreshold:   cfg.Voice.SpeakThreshold,
		SilenceThreshold: cfg.Voice.SilenceThreshold,
	}, tr, log)
	if err != nil {
		return err
	}

	subscribe(sess, log)

	if err := sess.Join(ctx); err != nil {
		return err
	}
	log.Info("joined room", slog.String("room_id", roomID))

	go readInput(ctx, sess, log)

	<-ctx.Done()
	if err := sess.Leave(context.Background()); err != nil && !errors.Is(err, session.ErrInvalidTransition) {
		log.Warn("leave failed", sl.Err(err))
	}
	sess.Wait()
	return nil
}

func subscribe(sess *session.Session, log *slog.Logger) {
	events := sess.Events()

	events.Subscribe(bus.TopicStateChanged, func(_ string, payload any) {
		log.Info("room state changed", slog.Any("state", payload))
	})
	events.Subscribe(bus.TopicPeerJoined, func(_ string, payload any) {
		fmt.Printf("* %v joined\n", payload)
	})
	events.Subscribe(bus.TopicPeerLeft, func(_ string, payload any) {
		fmt.Printf("* %v left\n", payload)
	})
	events.Subscribe(bus.TopicChat, func(_ string, payload any) {
		if msg, ok := payload.(session.ChatEvent); ok {
			fmt.Printf("<%s> %s\n", msg.From, msg.Body)
		}
	})
	events.Subscribe(bus.TopicRemoteMute, func(_ string, payload any) {
		if ev, ok := payload.(session.MuteEvent); ok {
			fmt.Printf("* %s muted=%v\n", ev.PeerID, ev.Muted)
		}
	})
	events.Subscribe(bus.TopicError, func(_ string, payload any) {
		log.Warn("peer error", slog.Any("peer", payload))
	})
}

func readInput(ctx context.Context, sess *session.Session, log *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		switch line {
		case "/mute", "/unmute":
			err = sess.ToggleMute()
		case "/quit":
			err = sess.Leave(ctx)
			if err == nil {
				return
			}
		default:
			err = sess.SendMessage(ctx, line)
		}

		if errors.Is(err, ratelimit.ErrRateLimited) {
			fmt.Println("* slow down, rate limit hit")
		} else if err != nil {
			log.Warn("command failed", sl.Err(err))
		}
	}
}

func policiesFromConfig(limits config.LimitsConfig) map[ratelimit.Action]ratelimit.Policy {
	return map[ratelimit.Action]ratelimit.Policy{
		ratelimit.ActionMessage: {
			Kind: ratelimit.PolicyToken, Capacity: limits.MessageCapacity, Rate: limits.MessageRate,
		},
		ratelimit.ActionMicToggle: {
			Kind: ratelimit.PolicyToken, Capacity: limits.MicToggleCapacity, Rate: limits.MicToggleRate,
		},
		ratelimit.ActionTyping: {
			Kind: ratelimit.PolicyLeaky, Capacity: limits.TypingCapacity, Rate: limits.TypingRate,
		},
		ratelimit.ActionRoomJoin: {
			Kind: ratelimit.PolicyToken, Capacity: limits.RoomJoinCapacity, Rate: limits.RoomJoinRate,
		},
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
