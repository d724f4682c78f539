package api

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"
	"gopkg.in/go-playground/validator.v8"

	"github.com/volta-protocol/voltgate/api/validation"
	"github.com/volta-protocol/voltgate/build"
	"github.com/volta-protocol/voltgate/orchestrator"
)

var log = build.AddSubLogger("API")

// Config is the configuration for our API.
type Config struct {
	// LogLevel specifies which level our application is going to log to
	LogLevel logrus.Level
	// Network is the Lightning network we settle on, mainnet or testnet.
	Network string
	// Environment is the deployment environment name, e.g. development
	// or production.
	Environment string
	// WebhookBaseURL is the externally reachable base URL of this
	// service, reported on the config route.
	WebhookBaseURL string
	// ProviderConfigured reports whether payment processor credentials
	// are present.
	ProviderConfigured bool
	// Debug exposes extra diagnostic fields on the config route.
	Debug bool
}

func (c Config) isDevelopment() bool {
	return c.Environment == "development"
}

// RestServer is the rest server for our app. It includes a Router and
// the payment orchestrator the routes delegate to.
type RestServer struct {
	Router       *gin.Engine
	orchestrator *orchestrator.Orchestrator
	config       Config
}

func getCorsConfig() cors.Config {
	return cors.Config{
		AllowAllOrigins: true,
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodOptions,
		},
		AllowHeaders: []string{
			"Accept", "Access-Control-Allow-Origin", "Content-Type",
			"x-chipipay-signature"},
	}
}

// getGinEngine creates a new Gin engine, and applies middlewares used by
// our API. This includes recovering from panics, logging with Logrus and
// applying CORS configuration.
func getGinEngine(config Config) *gin.Engine {
	engine := gin.New()

	log.Debug("Applying gin.Recovery middleware")
	engine.Use(gin.Recovery())

	log.Debug("Applying Gin logging middleware")
	engine.Use(build.GinLoggingMiddleWare(log, nil))

	log.Debug("Applying CORS middleware")
	engine.Use(cors.New(getCorsConfig()))

	return engine
}

// NewApp creates a new app
func NewApp(orch *orchestrator.Orchestrator, config Config) (RestServer, error) {
	build.SetLogLevels(config.LogLevel)

	if config.Network == "" {
		config.Network = "mainnet"
	}
	if config.Environment == "" {
		config.Environment = "production"
	}

	g := getGinEngine(config)

	engine, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return RestServer{}, fmt.Errorf(
			"gin validator engine (%s) was not validator.Validate",
			binding.Validator.Engine(),
		)
	}
	validators := validation.RegisterAllValidators(engine)
	log.Infof("Registered custom validators: %s", validators)

	r := RestServer{
		Router:       g,
		orchestrator: orch,
		config:       config,
	}

	// Ping handler
	r.Router.GET("/ping", func(c *gin.Context) {
		c.String(200, "pong")
	})

	r.Router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	r.registerLightningRoutes()

	return r, nil
}

// registerLightningRoutes registers the payment flow routes.
func (r *RestServer) registerLightningRoutes() {
	lightning := r.Router.Group("/api/lightning")

	lightning.GET("/config", r.getConfig())
	lightning.POST("/create", r.createPaymentFlow())
	lightning.GET("/status/:invoiceId", r.getInvoiceStatus())
	lightning.GET("/summary", r.getPaymentSummary())
	lightning.POST("/webhook/:bridgeId", r.handleWebhook())
}
