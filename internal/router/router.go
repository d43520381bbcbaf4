// internal/router/router.go
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/mc-review-history/internal/config"
	"github.com/javajoker/mc-review-history/internal/handlers"
	"github.com/javajoker/mc-review-history/internal/middleware"
	"github.com/javajoker/mc-review-history/internal/services"
	"github.com/javajoker/mc-review-history/internal/utils"
)

func Initialize(db *gorm.DB, cfg *config.Config) *gin.Engine {
	// Initialize services
	notificationService := services.NewNotificationService(cfg)
	storageService, err := services.NewStorageService(cfg)
	if err != nil {
		logrus.WithError(err).Warn("Document storage unavailable, serving stored document urls")
		storageService = nil
	}

	historyService := services.NewHistoryService(db)
	submissionService := services.NewSubmissionService(db, notificationService)

	// Initialize handlers
	contractHandler := handlers.NewContractHandler(submissionService, historyService, storageService)
	rateHandler := handlers.NewRateHandler(submissionService, historyService, storageService)
	healthHandler := handlers.NewHealthHandler(db)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Frontend.BaseURL))
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired())
	{
		contracts := v1.Group("/contracts")
		{
			contracts.POST("", contractHandler.CreateContract)
			contracts.GET("", contractHandler.ListContracts)
			contracts.GET("/:id", contractHandler.GetContract)
			contracts.PUT("/:id/draft", contractHandler.UpdateDraft)
			contracts.PUT("/:id/draft/rates", contractHandler.UpdateDraftRates)
			contracts.POST("/:id/rates", contractHandler.CreateRate)
			contracts.POST("/:id/submit", middleware.TransitionRateLimit(), contractHandler.Submit)
			contracts.POST("/:id/unlock", middleware.TransitionRateLimit(), middleware.CMSRequired(), contractHandler.Unlock)
		}

		rates := v1.Group("/rates")
		{
			rates.GET("/:id", rateHandler.GetRate)
			rates.PUT("/:id/draft", rateHandler.UpdateDraft)
			rates.POST("/:id/submit", middleware.TransitionRateLimit(), rateHandler.Submit)
			rates.POST("/:id/unlock", middleware.TransitionRateLimit(), middleware.CMSRequired(), rateHandler.Unlock)
		}
	}

	return r
}
