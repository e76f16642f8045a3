package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/iabtm/rtc-core/internal/domain"
	"github.com/iabtm/rtc-core/lib/logger/sl"
)

const joinTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func SetupRouter(r *Relay) *gin.Engine {
	router := gin.Default()

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{"Authorization", "Content-Type", "Origin", "Accept"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/rooms/:roomID/ws", r.HandleWS)

	return router
}

// HandleWS upgrades the connection and serves one peer's signaling. The
// first frame must be a join-audio-room signal carrying the peer's id and
// display name; everything after is routed within the room.
func (r *Relay) HandleWS(ctx *gin.Context) {
	roomID := ctx.Param("roomID")
	if roomID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "room id is required"})
		return
	}

	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		r.log.Error("failed to upgrade connection", sl.Err(err))
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	var join domain.Signal
	if err := conn.ReadJSON(&join); err != nil {
		_ = conn.Close()
		return
	}

	joinBody, ok := join.Body.(domain.JoinRoom)
	if !ok {
		_ = conn.WriteJSON(gin.H{"error": "first message must be join-audio-room"})
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	rm := r.getOrCreateRoom(roomID)
	c := newClient(join.From, joinBody.DisplayName, conn)

	go c.writePump(r.log)
	r.register(rm, c)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Debug("relay read failed",
					slog.String("peer_id", c.id), sl.Err(err))
			}
			r.unregister(rm, c)
			_ = conn.Close()
			return
		}

		var sig domain.Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			r.log.Warn("dropping undecodable signal",
				slog.String("peer_id", c.id), sl.Err(err))
			continue
		}
		r.route(rm, c, sig)
	}
}
