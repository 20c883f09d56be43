package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bitchat-mesh/core/pkg/identity"
	"github.com/bitchat-mesh/core/pkg/session"
	"github.com/bitchat-mesh/core/pkg/transport/selector"
)

// statusAPI is a loopback-only HTTP debug surface exposing this node's
// identity, peer view, and session states; never bound to a
// non-loopback address, since it carries no authentication of its own.
type statusAPI struct {
	port       int
	id         *identity.Identity
	sessions   *session.Manager
	sel        *selector.Selector
	router     *gin.Engine
	httpServer *http.Server
}

func newStatusAPI(port int, id *identity.Identity, sessions *session.Manager, sel *selector.Selector) *statusAPI {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &statusAPI{port: port, id: id, sessions: sessions, sel: sel, router: r}
	s.setupRoutes()
	return s
}

func (s *statusAPI) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/node/info", s.handleNodeInfo)
		v1.GET("/peers", s.handlePeers)
		v1.GET("/sessions", s.handleSessions)
	}
	s.router.GET("/health", s.handleHealth)
}

// Start binds strictly to loopback and serves until Stop is called.
func (s *statusAPI) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bitchatd: status API listen on %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *statusAPI) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *statusAPI) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *statusAPI) handleNodeInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"shortId":     s.id.ShortID(),
		"fingerprint": s.id.FormattedFingerprint(),
	})
}

func (s *statusAPI) handlePeers(c *gin.Context) {
	snapshots := s.sel.PeerSnapshots()
	out := make([]gin.H, 0, len(snapshots))
	for _, p := range snapshots {
		out = append(out, gin.H{
			"peerId":      p.PeerID,
			"nickname":    p.Nickname,
			"isConnected": p.IsConnected,
			"lastSeen":    p.LastSeen,
		})
	}
	c.JSON(http.StatusOK, gin.H{"peers": out})
}

func (s *statusAPI) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": s.sessions.Len()})
}
