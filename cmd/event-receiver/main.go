// Command event-receiver is a development sink for lifecycle events. It
// verifies signed webhook deliveries and, when NATS_URL is set, tails the
// event subjects.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/config"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/events"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/httpapi"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/webhook"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}
	if err := log.Init("development"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}
	signingKey := os.Getenv("WEBHOOK_SIGNING_KEY")

	if url := os.Getenv("NATS_URL"); url != "" {
		prefix := os.Getenv("NATS_SUBJECT_PREFIX")
		if prefix == "" {
			prefix = "notifier.events"
		}
		conn, err := events.ConnectNATS(url)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer conn.Drain()
		if _, err := conn.Subscribe(strings.TrimSuffix(prefix, ".")+".>", func(msg *nats.Msg) {
			var e events.Event
			if err := json.Unmarshal(msg.Data, &e); err != nil {
				log.Warn("undecodable NATS message", zap.String("subject", msg.Subject), zap.Error(err))
				return
			}
			logEvent("nats", &e)
		}); err != nil {
			log.Fatal("failed to subscribe", zap.Error(err))
		}
		log.Info("tailing NATS events", zap.String("subject", prefix+".>"))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), httpapi.RequestLogger())
	router.GET("/health", func(c *gin.Context) {
		httpapi.RespondOK(c, gin.H{"status": "healthy"})
	})
	router.POST("/webhook", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			httpapi.RespondBadRequest(c, "Failed to read body")
			return
		}

		if signingKey != "" {
			timestamp, err := strconv.ParseInt(c.GetHeader("X-Timestamp"), 10, 64)
			if err != nil {
				httpapi.RespondBadRequest(c, "Invalid timestamp")
				return
			}
			signature := strings.TrimPrefix(c.GetHeader("X-Signature-256"), "sha256=")
			if !webhook.VerifySignature(signingKey, signature, timestamp, body) {
				log.Warn("invalid signature", zap.String("event_id", c.GetHeader("X-Event-Id")))
				httpapi.RespondUnauthorized(c, "Invalid signature")
				return
			}
		}

		var e events.Event
		if err := json.Unmarshal(body, &e); err != nil {
			httpapi.RespondBadRequest(c, "Invalid payload")
			return
		}
		logEvent("webhook", &e)
		httpapi.RespondOK(c, gin.H{"status": "ok"})
	})

	log.Info("event receiver listening",
		zap.String("port", port),
		zap.Bool("verify_signatures", signingKey != ""),
	)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}

func logEvent(source string, e *events.Event) {
	log.Info("event received",
		zap.String("source", source),
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("subject", e.Subject),
		zap.String("channel_id", e.ChannelID),
		zap.String("video_id", e.VideoID),
		zap.Any("payload", e.Payload),
	)
}
