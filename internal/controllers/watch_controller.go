package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tag_tracker/internal/backend"
	"tag_tracker/internal/devicestate"
	"tag_tracker/internal/gateway"
	"tag_tracker/internal/middleware"
	"tag_tracker/internal/models"
	"tag_tracker/internal/watch"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
	wsReadLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WatchController serves viewing sessions over websocket.
type WatchController struct {
	svc  *backend.Service
	auth *middleware.Auth
	opts watch.Options
}

func NewWatchController(svc *backend.Service, auth *middleware.Auth, opts watch.Options) *WatchController {
	return &WatchController{svc: svc, auth: auth, opts: opts}
}

// command is a client request on the socket.
type command struct {
	Op          string `json:"op"`
	RequestID   string `json:"request_id,omitempty"`
	DeviceID    string `json:"device_id"`
	Enabled     bool   `json:"enabled"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
}

type reply struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Op        string `json:"op"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Field     string `json:"field,omitempty"`
}

func (wc *WatchController) authenticate(c *gin.Context) (*middleware.Claims, error) {
	tokenString := c.Query("token")
	if tokenString == "" {
		tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if tokenString == "" {
		return nil, errors.New("missing authentication token")
	}
	claims, err := wc.auth.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// scopeFor resolves the query into a session scope the caller may see.
func (wc *WatchController) scopeFor(c *gin.Context, claims *middleware.Claims) (watch.Scope, error) {
	actor := backend.Actor{UserID: claims.UserID, Admin: claims.Role == models.RoleAdmin}
	if id := c.Query("device_id"); id != "" {
		if _, err := wc.svc.DeviceFor(c.Request.Context(), actor, id); err != nil {
			return watch.Scope{}, err
		}
		return watch.Scope{DeviceID: id}, nil
	}
	if actor.Admin && c.Query("all") == "true" {
		return watch.Scope{All: true}, nil
	}
	return watch.Scope{OwnerID: claims.UserID}, nil
}

// Watch upgrades to a websocket and streams one viewing session.
func (wc *WatchController) Watch(c *gin.Context) {
	claims, err := wc.authenticate(c)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket connection attempt failed.")
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	scope, err := wc.scopeFor(c, claims)
	if err != nil {
		abortWithError(c, err)
		return
	}

	sess, err := watch.Open(c.Request.Context(), wc.svc, scope, wc.opts)
	if err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sess.Close()
		logrus.WithError(err).Error("Failed to upgrade WebSocket connection.")
		return
	}

	logrus.WithFields(logrus.Fields{
		"user_id":   claims.UserID,
		"device_id": scope.DeviceID,
		"conn_ptr":  fmt.Sprintf("%p", conn),
	}).Info("Watch WebSocket connection established.")

	replies := make(chan reply, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go wc.writePump(conn, sess, replies, cancel)
	wc.readPump(ctx, conn, sess, replies)

	cancel()
	sess.Close()
	logrus.WithFields(logrus.Fields{
		"user_id":  claims.UserID,
		"conn_ptr": fmt.Sprintf("%p", conn),
	}).Info("Watch WebSocket connection closed.")
}

func (wc *WatchController) readPump(ctx context.Context, conn *websocket.Conn, sess *watch.Session, replies chan<- reply) {
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).Warn("Error reading watch WebSocket message.")
			}
			return
		}
		// Commands run off the read loop: a write in flight must not stop
		// pongs and further commands from being read.
		go func(cmd command) {
			r := wc.execute(ctx, sess, cmd)
			select {
			case replies <- r:
			case <-ctx.Done():
			}
		}(cmd)
	}
}

func (wc *WatchController) execute(ctx context.Context, sess *watch.Session, cmd command) reply {
	r := reply{Type: "reply", RequestID: cmd.RequestID, Op: cmd.Op}
	var err error
	switch cmd.Op {
	case "set_fence":
		err = sess.SetFence(ctx, cmd.DeviceID, cmd.Enabled)
	case "set_movement":
		err = sess.SetMovementWindow(ctx, cmd.DeviceID, cmd.Enabled, cmd.WindowStart, cmd.WindowEnd)
	default:
		err = fmt.Errorf("unknown op %q", cmd.Op)
	}
	if err == nil {
		r.OK = true
		return r
	}

	var (
		ve *gateway.ValidationError
		wf *gateway.WriteFailure
	)
	switch {
	case errors.As(err, &ve):
		r.Error, r.Field = ve.Error(), ve.Field
	case errors.As(err, &wf):
		r.Error = "alert configuration was not saved, try again"
	case errors.Is(err, devicestate.ErrUnknownDevice):
		r.Error = "device not in this session"
	default:
		r.Error = err.Error()
	}
	return r
}

func (wc *WatchController) writePump(conn *websocket.Conn, sess *watch.Session, replies <-chan reply, cancel context.CancelFunc) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	events := sess.Events()
	for {
		var msg interface{}
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
			msg = ev
		case r := <-replies:
			msg = r
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
