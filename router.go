package main

import (
	"database/sql"
	"net/http"
	"time"

	"visualize-backend/auth"
	"visualize-backend/categories"
	"visualize-backend/config"
	"visualize-backend/credits"
	"visualize-backend/email"
	"visualize-backend/feedback"
	"visualize-backend/logging"
	"visualize-backend/meditation"
	"visualize-backend/metrics"
	"visualize-backend/openai"
	"visualize-backend/progress"
	"visualize-backend/referrals"
	"visualize-backend/reminders"
	"visualize-backend/responses"
	"visualize-backend/subscriptions"
	"visualize-backend/users"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// newRouter wires every feature onto one engine. The reminder job is returned
// unstarted, or nil when mail is not configured or reminders are off.
func newRouter(cfg *config.Config, db *sql.DB, cache responses.Cache, log *logrus.Logger) (*gin.Engine, *reminders.Service, error) {
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(log), metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.HTTP.Origins(),
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", metrics.Handler())

	var verifier *auth.Verifier
	if !cfg.Auth.Disabled {
		v, err := auth.NewVerifier(cfg.Auth)
		if err != nil {
			return nil, nil, err
		}
		verifier = v
	} else {
		log.Warn("[auth] AUTH_DISABLED=true; every request runs as the dev user")
	}

	userRepo := users.NewRepository(db, cfg.Referral.CodeLength)
	hook := auth.EnsureUser(userRepo, log)

	optional := router.Group("/")
	optional.Use(auth.Middleware(verifier, auth.MiddlewareConfig{Disabled: cfg.Auth.Disabled, Optional: true, OnAuthenticated: hook, Log: log}))
	authed := router.Group("/")
	authed.Use(auth.Middleware(verifier, auth.MiddlewareConfig{Disabled: cfg.Auth.Disabled, OnAuthenticated: hook, Log: log}))

	mailer := email.NewMailer(cfg.SMTP, cfg.HTTP.AppURL, log)

	responseSvc := responses.NewService(responses.NewRepository(db), cache, log)
	ledger := credits.NewLedger(credits.NewRepository(db), cfg.Ledger, log)
	subsRepo := subscriptions.NewRepository(db)
	feedbackSvc := feedback.NewService(feedback.NewRepository(db), log)

	var referralNotify referrals.Notifier
	if mailer != nil {
		referralNotify = mailer
	}
	referralSvc := referrals.NewService(referrals.NewRepository(db), userRepo, ledger, referralNotify, log)

	var (
		text   meditation.TextGenerator
		speech meditation.SpeechSynthesizer
	)
	if ai := openai.NewClient(cfg.OpenAI); ai != nil {
		text, speech = ai, ai
	} else {
		log.Warn("[openai] OPENAI_API_KEY not set; meditation generation disabled")
	}

	auth.NewHandler(userRepo, responseSvc, cfg.Ledger.NewUserWindow, log).RegisterRoutes(optional, authed)
	responses.NewHandler(responseSvc).RegisterRoutes(authed)
	categories.NewHandler(responseSvc).RegisterRoutes(authed)
	credits.NewHandler(ledger, subsRepo, log).RegisterRoutes(authed)
	referrals.NewHandler(referralSvc, cfg.Referral.WebhookSecret, cfg.HTTP.AppURL, log).RegisterRoutes(router, authed)
	meditation.NewHandler(meditation.NewPipeline(responseSvc, text, speech, log)).RegisterRoutes(authed)
	feedback.NewHandler(feedbackSvc).RegisterRoutes(authed)
	subscriptions.NewHandler(subsRepo, subscriptions.NewStripeService(subsRepo, cfg.Stripe, cfg.HTTP.AppURL, log), log).RegisterRoutes(router, authed)
	progress.NewHandler(ledger, subsRepo, feedbackSvc, referralSvc, responseSvc, cfg.HTTP.AppURL, log).RegisterRoutes(authed)

	var jobs *reminders.Service
	if mailer != nil && cfg.Reminders.Enabled {
		jobs = reminders.NewService(db, mailer, ledger.Period(), cfg.Reminders.Schedule, log)
	}
	return router, jobs, nil
}
