// Package toolserver exposes the task platform to agent clients over MCP.
// It supports both transports for compatibility with different clients:
//   - SSE transport (/sse) for Claude Desktop, Cursor, etc.
//   - Streamable HTTP transport (/mcp) for Codex
//
// Tool calls proxy the REST API with the caller's bearer credential, so
// authorization decisions stay in one place.
package toolserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/auth"
	"github.com/taskflow/taskflow/internal/common/config"
	"github.com/taskflow/taskflow/internal/common/logger"
)

// Server wraps the SSE and Streamable HTTP transports with lifecycle
// management.
type Server struct {
	cfg                  config.ToolServerConfig
	discovery            *auth.Discovery
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server
	mu                   sync.Mutex
	running              bool
	logger               *logger.Logger
}

func New(cfg config.ToolServerConfig, discovery *auth.Discovery, log *logger.Logger) *Server {
	return &Server{
		cfg:       cfg,
		discovery: discovery,
		logger:    log.WithFields(zap.String("component", "tool-server")),
	}
}

// Start starts the tool server in a goroutine and returns once it is
// listening.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer(
		"taskflow-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, s.cfg, s.logger)

	// Both transports stash the caller's bearer credential in the request
	// context so tool handlers can forward it to the REST API.
	s.sseServer = server.NewSSEServer(mcpServer,
		server.WithSSEContextFunc(withBearer),
	)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithHTTPContextFunc(withBearer),
	)

	router := gin.New()
	router.Use(gin.Recovery())

	// Metadata documents are public so clients can discover the
	// authorization server before they hold a token.
	s.discovery.Register(router, "mcp")
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "taskflow-mcp"})
	})

	guarded := router.Group("", s.requireBearer())
	guarded.Any("/sse", gin.WrapH(s.sseServer.SSEHandler()))
	guarded.Any("/message", gin.WrapH(s.sseServer.MessageHandler()))
	guarded.Any("/mcp", gin.WrapH(s.streamableHTTPServer))

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: router}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("tool server listening",
			zap.Int("port", s.cfg.Port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("tool server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the server and both transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE server", zap.Error(err))
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown Streamable HTTP server", zap.Error(err))
		}
	}
	return nil
}

// requireBearer rejects unauthenticated transport requests with the
// discovery challenge. The credential itself is verified downstream by the
// REST API each tool call proxies to.
func (s *Server) requireBearer() gin.HandlerFunc {
	challenge := fmt.Sprintf(`Bearer resource_metadata=%q`, s.discovery.ResourceMetadataURL())
	return func(c *gin.Context) {
		if auth.BearerToken(c.Request) == "" {
			c.Header("WWW-Authenticate", challenge)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":       "missing bearer token",
				"status_code": http.StatusUnauthorized,
			})
			return
		}
		c.Next()
	}
}
