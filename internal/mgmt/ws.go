package mgmt

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/artifact-agent/internal/bus"
	"github.com/p-blackswan/artifact-agent/internal/project"
)

const wsWriteTimeout = 10 * time.Second

// wsUpgrade gates the events route to WebSocket upgrade requests.
func wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return problemResponse(c, fiber.StatusUpgradeRequired,
		"upgrade_required", "Upgrade Required",
		"This endpoint only speaks WebSocket")
}

// NewEventsHandler streams a project's progress events over WebSocket.
// The recent window is replayed first, then live events until the
// topic closes or the client disconnects.
func NewEventsHandler(registry *project.Registry, b *bus.Bus, logger zerolog.Logger) fiber.Handler {
	log := logger.With().Str("component", "ws").Logger()

	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()
		id := conn.Params("id")

		if _, ok := registry.Get(id); !ok {
			deadline := time.Now().Add(wsWriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown project"),
				deadline)
			return
		}

		events, unsubscribe := b.Subscribe(id)
		defer unsubscribe()

		log.Debug().Str("project_id", id).Msg("subscriber connected")

		// Drain client frames so close handshakes are noticed.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-clientGone:
				log.Debug().Str("project_id", id).Msg("subscriber disconnected")
				return
			case ev, ok := <-events:
				if !ok {
					deadline := time.Now().Add(wsWriteTimeout)
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"),
						deadline)
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					log.Debug().Err(err).Str("project_id", id).Msg("subscriber write failed")
					return
				}
			}
		}
	})
}
