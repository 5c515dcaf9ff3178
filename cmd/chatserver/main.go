package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/converse/chat-app/internal/config"
	"github.com/converse/chat-app/internal/presence"
	"github.com/converse/chat-app/internal/protocol"
	"github.com/converse/chat-app/internal/ratelimit"
	"github.com/converse/chat-app/internal/receipts"
	"github.com/converse/chat-app/internal/registry"
	"github.com/converse/chat-app/internal/relay"
	"github.com/converse/chat-app/internal/router"
	"github.com/converse/chat-app/internal/store"
	"github.com/converse/chat-app/internal/typing"
	"github.com/converse/chat-app/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	// --- Postgres ---
	db, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	messageStore := store.NewMessageStore(db)
	groupStore := store.NewGroupStore(db)
	userStore := store.NewUserStore(db)

	// --- Redis ---
	presenceStore, err := presence.NewStore(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	limiter := ratelimit.NewLimiter(presenceStore.Client())

	// --- NATS (optional) ---
	var rly *relay.Relay
	if cfg.NATSURL != "" {
		relayConfig := relay.DefaultConfig()
		relayConfig.URL = cfg.NATSURL
		relayConfig.Name = cfg.ServerName
		rly, err = relay.Connect(relayConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	log.Printf("chat server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", natsDesc(cfg.NATSURL))
	log.Printf("  server_name:     %s", cfg.ServerName)

	reg := registry.New()

	dispatcher := ws.NewEventDispatcher()
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)

	deliver := &registry.Deliverer{Registry: reg, Sender: server}
	if rly != nil {
		deliver.Mirror = rly
	}

	rtr := router.New(messageStore, groupStore, deliver)
	propagator := &receipts.Propagator{Messages: messageStore, Deliver: deliver}
	notifier := &typing.Notifier{Tracker: typing.NewTracker(), Deliver: deliver, Groups: groupStore}
	tracker := &presence.Tracker{
		Registry: reg,
		Deliver:  deliver,
		Users:    userStore,
		Typing:   notifier,
		Mirror:   presenceStore,
	}

	// Mirror inbound: frames published by peer instances for a locally
	// connected user are written to local connections only, never republished.
	if rly != nil {
		reg.OnFirstConnect(func(userID string) {
			if err := rly.SubscribeUser(userID, func(data []byte) {
				deliver.ToUserLocal(userID, data)
			}); err != nil {
				log.Printf("relay subscribe user=%s: %v", userID, err)
			}
		})
		reg.OnLastDisconnect(func(userID string) {
			if err := rly.UnsubscribeUser(userID); err != nil {
				log.Printf("relay unsubscribe user=%s: %v", userID, err)
			}
		})
		if err := rly.SubscribeBroadcast(server.Broadcast); err != nil {
			log.Fatalf("relay broadcast subscribe: %v", err)
		}
	}

	server.SetOnConnect(func(conn *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if ip := remoteIP(conn); ip != "" {
			if ok, _ := limiter.Allow(ctx, ip, ratelimit.RuleConnect); !ok {
				log.Printf("connect rate limited ip=%s user=%s", ip, conn.UserID)
				sendError(conn, "rate_limited", "too many connections, slow down")
				server.RemoveConnection(conn)
				return
			}
		}

		tracker.Connected(ctx, conn.UserID, conn.ID)
	})

	server.SetOnDisconnect(func(conn *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		tracker.Disconnected(ctx, conn.ID)
	})

	// -----------------------------------------------------------------------
	// sendMessage — persist a direct message, then fan out to both parties
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventSendMessage, func(conn *ws.Connection, msg interface{}) {
		ev, ok := msg.(protocol.SendMessageEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if allowed, _ := limiter.Allow(ctx, ev.Sender, ratelimit.RuleMessage); !allowed {
			sendError(conn, "rate_limited", "message rate limit exceeded")
			return
		}

		if _, err := rtr.RouteDirect(ctx, ev); err != nil {
			log.Printf("sendMessage from=%s: %v", ev.Sender, err)
			sendRouteError(conn, err)
		}
	})

	// -----------------------------------------------------------------------
	// sendGroupMessage — persist, append to the group, fan out to members
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventSendGroupMessage, func(conn *ws.Connection, msg interface{}) {
		ev, ok := msg.(protocol.SendGroupMessageEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if allowed, _ := limiter.Allow(ctx, ev.Sender, ratelimit.RuleMessage); !allowed {
			sendError(conn, "rate_limited", "message rate limit exceeded")
			return
		}

		if _, err := rtr.RouteGroup(ctx, ev); err != nil {
			log.Printf("sendGroupMessage from=%s group=%s: %v", ev.Sender, ev.GroupID, err)
			sendRouteError(conn, err)
		}
	})

	// -----------------------------------------------------------------------
	// sendFriendRequest — relay the opaque request to the target
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventSendFriendRequest, func(conn *ws.Connection, msg interface{}) {
		ev, ok := msg.(protocol.SendFriendRequestEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := rtr.RouteFriendRequest(ctx, ev); err != nil {
			log.Printf("sendFriendRequest target=%s: %v", ev.Target, err)
			sendRouteError(conn, err)
		}
	})

	// -----------------------------------------------------------------------
	// createGroup — announce a newly created group to its members
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventCreateGroup, func(conn *ws.Connection, msg interface{}) {
		ev, ok := msg.(protocol.CreateGroupEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := rtr.RouteGroupCreation(ctx, ev); err != nil {
			log.Printf("createGroup group=%s: %v", ev.GroupID, err)
			sendRouteError(conn, err)
		}
	})

	// -----------------------------------------------------------------------
	// typing / stopTyping — scoped indicator relay
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventTyping, func(conn *ws.Connection, msg interface{}) {
		ev, ok := msg.(protocol.TypingEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		// Over-limit typing events are dropped silently; indicators are
		// advisory and the client retries on the next keystroke.
		if allowed, _ := limiter.Allow(ctx, ev.SenderID, ratelimit.RuleTyping); !allowed {
			return
		}
		notifier.Start(ctx, ev)
	})

	dispatcher.Register(protocol.EventStopTyping, func(conn *ws.Connection, msg interface{}) {
		ev, ok := msg.(protocol.TypingEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		notifier.Stop(ctx, ev)
	})

	// -----------------------------------------------------------------------
	// markAsRead — batch read receipts, notify each sender
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventMarkAsRead, func(conn *ws.Connection, msg interface{}) {
		ev, ok := msg.(protocol.MarkAsReadEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		propagator.MarkRead(ctx, ev.MessageIDs, ev.UserID)
	})

	// -----------------------------------------------------------------------
	// addReaction — persist an emoji reaction, notify the conversation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.EventAddReaction, func(conn *ws.Connection, msg interface{}) {
		ev, ok := msg.(protocol.AddReactionEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := rtr.RouteReaction(ctx, ev); err != nil {
			log.Printf("addReaction message=%s: %v", ev.MessageID, err)
			sendRouteError(conn, err)
		}
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if rly != nil {
			rly.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := presenceStore.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// sendRouteError maps router errors to client-facing error frames. Validation
// failures name the cause; everything else is reported as a server fault.
func sendRouteError(conn *ws.Connection, err error) {
	var verr *router.ValidationError
	if errors.As(err, &verr) {
		sendError(conn, "invalid_message", verr.Reason)
		return
	}
	sendError(conn, "server_error", "failed to process message")
}

func sendError(conn *ws.Connection, code, message string) {
	data, err := protocol.NewServerEvent(protocol.EventError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("send error frame handle=%s: %v", conn.ID, err)
	}
}

// remoteIP extracts the peer IP from the connection for per-IP rate limiting.
func remoteIP(conn *ws.Connection) string {
	addr := conn.Conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func natsDesc(url string) string {
	if url == "" {
		return "(disabled)"
	}
	return url
}
