package http

import (
	"github.com/gin-gonic/gin"

	"github.com/layer-3/otpwallet/ports"
)

// SetupRouter sets up the Gin router
func SetupRouter(handlers *Handlers, tokenizer ports.Tokenizer, store ports.SessionStore) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	requireSession := AuthMiddleware(tokenizer, store)

	auth := router.Group("/auth")
	{
		auth.GET("/state", handlers.State)
		auth.GET("/watch", handlers.Watch)
		auth.POST("/email", handlers.RequestCode)
		auth.POST("/resend", handlers.Resend)
		auth.POST("/code", handlers.SubmitCode)
		auth.POST("/back", handlers.Back)
		auth.POST("/dismiss", handlers.Dismiss)
		auth.POST("/logout", LogoutMiddleware(tokenizer, store), handlers.Logout)
	}

	api := router.Group("/api")
	api.Use(requireSession)
	{
		api.GET("/wallet", handlers.Wallet)
		api.GET("/fee", handlers.Fee)
		api.POST("/transactions", handlers.SubmitTransaction)
	}

	return router
}
