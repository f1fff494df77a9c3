package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// adminServer exposes the registry over HTTP for operators: health,
// session/group inspection, and a Prometheus scrape endpoint.
type adminServer struct {
	httpServer *http.Server
}

func newAdminServer(addr string, s *Server) *adminServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/sessions", func(c *gin.Context) {
		sessions := s.Sessions()
		out := make([]gin.H, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, gin.H{
				"id":    fmt.Sprintf("%x", sess.ID()),
				"state": sess.State().String(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	router.GET("/sessions/:id", func(c *gin.Context) {
		id := c.Param("id")
		for _, sess := range s.Sessions() {
			if fmt.Sprintf("%x", sess.ID()) == id {
				c.JSON(http.StatusOK, gin.H{
					"id":    id,
					"state": sess.State().String(),
				})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	})

	router.GET("/groups/:id", func(c *gin.Context) {
		id := c.Param("id")
		for _, g := range s.Groups() {
			if g.ID.String() == id {
				c.JSON(http.StatusOK, gin.H{
					"id":       id,
					"name":     g.Name,
					"sessions": g.SessionCount(),
				})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	return &adminServer{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
}

func (a *adminServer) Serve() error {
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *adminServer) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}
