package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SpheneDev/SpheneServer/global/config"
	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/module/sync"
	"github.com/SpheneDev/SpheneServer/module/sync/store"
	"github.com/SpheneDev/SpheneServer/service/admission"
	"github.com/SpheneDev/SpheneServer/service/notify"
	"github.com/SpheneDev/SpheneServer/service/storage"
	"github.com/SpheneDev/SpheneServer/tools/ids"
	"github.com/SpheneDev/SpheneServer/tools/safe"
	"github.com/SpheneDev/SpheneServer/tools/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server is one gateway node: it owns the local websocket connections
// and bridges the per-user NATS subjects to them.
type Server struct {
	gatewayID string

	store    store.Store
	svc      *sync.Service
	presence storage.PresenceStore
	guard    *admission.Guard
	disp     *Dispatcher
	connMgr  *ConnManager
	nc       *nats.Conn
	jwtOpts  security.Options

	stopCh chan struct{}
}

type Deps struct {
	Store    store.Store
	Service  *sync.Service
	Presence storage.PresenceStore
	Guard    *admission.Guard
	Nats     *nats.Conn
}

func NewServer(d Deps) *Server {
	cfg := config.Get()
	s := &Server{
		gatewayID: fmt.Sprintf("%s-%d", cfg.ShardName, cfg.NodeID),
		store:     d.Store,
		svc:       d.Service,
		presence:  d.Presence,
		guard:     d.Guard,
		connMgr:   NewConnManager(),
		nc:        d.Nats,
		jwtOpts:   security.DefaultOptions([]byte(cfg.JwtSecret)),
		stopCh:    make(chan struct{}),
	}
	s.disp = NewDispatcher(d.Guard, d.Service)
	safe.Go("presence-refresh", s.refreshLoop)
	return s
}

func (s *Server) ConnMgr() *ConnManager { return s.connMgr }

func (s *Server) presenceTTL() time.Duration { return config.Get().PresenceTTL() }

// Router builds the HTTP surface: the websocket endpoint plus health
// and metrics.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", s.handleWS)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) Run() error {
	cfg := config.Get()
	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Infof("[gateway] %s listening on %s", s.gatewayID, addr)
	return s.Router().Run(addr)
}

func (s *Server) Close() {
	close(s.stopCh)
	s.connMgr.Each(func(c *Client) { c.close() })
}

// authenticate pulls the bearer token from the header or, for browser
// websocket clients that cannot set headers, the query string.
func (s *Server) authenticate(r *http.Request) (*security.Claims, error) {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}
	return security.Verify(s.jwtOpts, token)
}

func (s *Server) handleWS(c *gin.Context) {
	cfg := config.Get()

	claims, err := s.authenticate(c.Request)
	if err != nil {
		logger.Infof("[gateway] auth rejected: %v", err)
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := checkClientVersion(c.Request.UserAgent(), cfg.MinClientVersion); err != nil {
		logger.Infof("[gateway] %s outdated client %q", claims.UID, c.Request.UserAgent())
		c.String(http.StatusUpgradeRequired, "client version rejected")
		return
	}

	ctx := c.Request.Context()
	user, err := s.store.GetUser(ctx, claims.UID)
	if err != nil || user == nil {
		logger.Infof("[gateway] unknown uid %s: %v", claims.UID, err)
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[gateway] upgrade: %v", err)
		return
	}

	client := newClient(ws, ids.GenerateString(), user, claims.CharaIdent, cfg.SendQueueSize)
	safe.Go("ws-write-"+client.ConnID, client.writePump)

	// lifecycle outlives the HTTP request context
	if err := s.connectGuarded(context.Background(), client); err != nil {
		logger.Errorf("[gateway] connect %s: %v", user.UID, err)
		client.close()
		return
	}
	defer s.disconnectGuarded(client)

	s.readLoop(client, ws)
}

func (s *Server) readLoop(client *Client, ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				logger.Infof("[gateway] read %s: %v", client.User.UID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		frame, err := ParseClientFrame(data)
		if err != nil {
			logger.Infof("[gateway] %s: %v", client.User.UID, err)
			continue
		}
		s.disp.Dispatch(context.Background(), client, frame)
	}
}

// subscribeNotifications bridges the user's NATS subject onto the
// socket. The subscription lives exactly as long as the client.
func (s *Server) subscribeNotifications(c *Client) error {
	sub, err := s.nc.Subscribe(notify.SubjectForUser(c.User.UID), func(m *nats.Msg) {
		var env struct {
			Kind    string          `json:"kind"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warnf("[gateway] bad envelope for %s: %v", c.User.UID, err)
			return
		}
		c.Send(notificationFrame(env.Kind, env.Payload))
	})
	if err != nil {
		return err
	}
	c.sub = sub
	return nil
}

// refreshLoop keeps the replicated presence entries of local clients
// alive. Entries of a crashed node simply age out.
func (s *Server) refreshLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ttl := s.presenceTTL()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.connMgr.Each(func(c *Client) {
				if err := s.presence.Refresh(ctx, c.User.UID, ttl); err != nil {
					logger.Warnf("[gateway] refresh presence %s: %v", c.User.UID, err)
				}
			})
			cancel()
		}
	}
}
