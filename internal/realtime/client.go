package realtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/roles"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Authenticator validates a token and returns the caller's id and resolved role.
type Authenticator func(token string) (userID string, role models.Role, err error)

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	UserID string
	Role   models.Role
	Topics []string
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	logger *zap.Logger
}

// TopicAllowed reports whether a user with role may listen on topic. Users
// always receive their own user topic; event topics are for staff dashboards.
func TopicAllowed(topic, userID string, role models.Role) bool {
	switch {
	case topic == UserTopic(userID):
		return true
	case strings.HasPrefix(topic, "events:") && len(topic) > len("events:"):
		return roles.Allowed(role, models.RoleOfficer)
	}
	return false
}

// ServeWs handles GET /ws?topic=...&token=... and runs the client loop.
// The caller's own user topic is always joined so role changes are pushed.
func ServeWs(hub *Hub, logger *zap.Logger, authenticate Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, role, err := authenticate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		topics := []string{UserTopic(userID)}
		if topic := c.Query("topic"); topic != "" && topic != topics[0] {
			if !TopicAllowed(topic, userID, role) {
				c.JSON(http.StatusForbidden, gin.H{"error": "topic not allowed"})
				return
			}
			topics = append(topics, topic)
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.NewString(),
			UserID: userID,
			Role:   role,
			Topics: topics,
			hub:    hub,
			conn:   conn,
			send:   make(chan Message, 64),
			logger: logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump only drains control frames; clients do not publish.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
