package sandboxtest

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// SetupRouter sets up the Gin router of the fake backend
func SetupRouter(service *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handlers := NewHandlers(service)

	public := router.Group("/sandbox")
	{
		public.POST("/challenge", handlers.Challenge)
		public.POST("/auth", handlers.Auth)
		public.POST("/refresh", handlers.Refresh)
	}

	protected := router.Group("/sandbox")
	protected.Use(AuthMiddleware(service))
	{
		protected.POST("/logout", handlers.Logout)
		protected.GET("/me/:address", handlers.Me)
		protected.POST("/regenerate-key", handlers.RegenerateKey)
		protected.GET("/stats", handlers.Stats)
		protected.GET("/logs", handlers.Logs)
		protected.GET("/origins", handlers.Origins)
		protected.PUT("/origins", handlers.UpdateOrigins)
	}

	return router
}

// Server is a running fake sandbox backend
type Server struct {
	*Service
	URL string
}

// NewServer starts a fake backend that is closed with the test
func NewServer(t testing.TB) *Server {
	t.Helper()

	service := NewService()
	srv := httptest.NewServer(SetupRouter(service))
	t.Cleanup(srv.Close)

	return &Server{Service: service, URL: srv.URL}
}
