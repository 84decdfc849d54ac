// Package api exposes the engine over HTTP with gin.
package api

import (
	"net/http"
	"time"

	"mixerline/internal/engine"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options configure the HTTP layer.
type Options struct {
	JWTSecret string
	// AuthDisabled grants every request an admin principal. Development only.
	AuthDisabled bool
	// Health serves /live and /ready when set.
	Health http.Handler
}

// Server represents the HTTP API of the engine
type Server struct {
	Router *gin.Engine
	engine *engine.Engine
	opts   Options
}

// NewServer creates the router and registers every route.
func NewServer(e *engine.Engine, opts Options) *Server {
	router := gin.New()
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/ws"})))

	s := &Server{Router: router, engine: e, opts: opts}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": s.engine.Hub.Subscribers()})
	})
	if s.opts.Health != nil {
		s.Router.GET("/live", gin.WrapH(s.opts.Health))
		s.Router.GET("/ready", gin.WrapH(s.opts.Health))
	}

	v1 := s.Router.Group("/api/v1", s.authenticate(), normalizeKeys())
	{
		// Mixers and the batch lifecycle on each
		v1.GET("/mixers", s.listMixers)
		v1.GET("/mixers/:id", s.getMixer)
		v1.PATCH("/mixers/:id", s.updateMixer)
		v1.GET("/mixers/:id/batch", s.liveBatch)
		v1.POST("/mixers/:id/batch", s.startBatch)
		v1.POST("/mixers/:id/batch/advance", s.advanceStep)
		v1.POST("/mixers/:id/batch/criterion", s.markCriterion)
		v1.POST("/mixers/:id/batch/measurement", s.recordMeasurement)
		v1.POST("/mixers/:id/batch/end", s.endBatch)
		v1.POST("/mixers/:id/batch/abort", s.abortBatch)

		// Recipes
		v1.GET("/recipes", s.listRecipes)
		v1.POST("/recipes", s.createRecipe)
		v1.GET("/recipes/:id", s.getRecipe)
		v1.PUT("/recipes/:id", s.updateRecipe)
		v1.DELETE("/recipes/:id", s.deleteRecipe)

		// Batch history
		v1.GET("/batches", s.listBatches)
		v1.GET("/batches/:id", s.getBatch)
		v1.DELETE("/batches/:id", s.deleteBatch)
		v1.GET("/batches/:id/progress", s.batchProgress)
		v1.GET("/batches/:id/steps", s.batchSteps)
		v1.GET("/batches/:id/step-executions", s.batchExecutions)
		v1.GET("/batches/:id/distributions", s.batchDistributions)
		v1.GET("/batches/:id/transactions", s.batchTransactions)
		v1.GET("/step-executions/:id", s.getStepExecution)

		// Inventory
		v1.GET("/inventory", s.listInventory)
		v1.POST("/inventory", s.createInventory)
		v1.GET("/inventory/:product", s.getInventory)
		v1.PUT("/inventory/:product", s.setInventory)
		v1.POST("/inventory/:product/replenish", s.replenish)
		v1.POST("/inventory/:product/consume", s.consume)
		v1.GET("/inventory/:product/transactions", s.productTransactions)

		// Alarms
		v1.GET("/alarms", s.listAlarms)
		v1.POST("/alarms", s.raiseAlarm)
		v1.POST("/alarms/acknowledge", s.acknowledgeAll)
		v1.GET("/alarms/:id", s.getAlarm)
		v1.POST("/alarms/:id/acknowledge", s.acknowledge)

		// Event feed
		v1.GET("/ws", s.serveEvents)
	}
}
