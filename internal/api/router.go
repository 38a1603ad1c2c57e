package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/db"
)

// Router handles API routing
type Router struct {
	content *ContentAPI
	handler *JSONRPCHandler
}

// NewRouter creates a new API router
func NewRouter(repo *db.Repository, b *bus.Bus, invalidate func(collection string)) *Router {
	router := &Router{
		content: NewContentAPI(repo, b, invalidate),
		handler: NewJSONRPCHandler(),
	}
	router.registerMethods()
	return router
}

// SetupRoutes configures the API routes on a gin engine
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthCheck)
	engine.POST("/", r.handler.Handle)
}

// registerMethods registers all JSON-RPC methods
func (r *Router) registerMethods() {
	r.handler.RegisterMethod("agora.get_community", r.content.GetCommunity)
	r.handler.RegisterMethod("agora.list_communities", r.content.ListCommunities)
	r.handler.RegisterMethod("agora.get_post", r.content.GetPost)
	r.handler.RegisterMethod("agora.list_posts", r.content.ListPosts)
	r.handler.RegisterMethod("agora.get_thread", r.content.GetThread)
	r.handler.RegisterMethod("agora.create_post", r.content.CreatePost)
	r.handler.RegisterMethod("agora.create_comment", r.content.CreateComment)
	r.handler.RegisterMethod("agora.cast_vote", r.content.CastVote)
	r.handler.RegisterMethod("agora.toggle_reaction", r.content.ToggleReaction)
}

// healthCheck returns service health status
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "agora",
	})
}
