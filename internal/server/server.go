package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/creditgate/internal/admission"
	admissiondomain "github.com/smallbiznis/creditgate/internal/admission/domain"
	"github.com/smallbiznis/creditgate/internal/agent"
	"github.com/smallbiznis/creditgate/internal/apikey"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	"github.com/smallbiznis/creditgate/internal/authorization"
	"github.com/smallbiznis/creditgate/internal/catalog"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/ledger"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/smallbiznis/creditgate/internal/metering"
	"github.com/smallbiznis/creditgate/internal/observability"
	obslogger "github.com/smallbiznis/creditgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creditgate/internal/observability/tracing"
	"github.com/smallbiznis/creditgate/internal/quota"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/ratelimit"
	"github.com/smallbiznis/creditgate/internal/reconciliation"
	reconciliationdomain "github.com/smallbiznis/creditgate/internal/reconciliation/domain"
	"github.com/smallbiznis/creditgate/internal/usage"
	usagedomain "github.com/smallbiznis/creditgate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	apikey.Module,
	catalog.Module,
	ratelimit.Module,
	ledger.Module,
	quota.Module,
	admission.Module,
	reconciliation.Module,
	usage.Module,
	metering.Module,
	agent.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) (*gin.Engine, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Anonymous callers are keyed by client IP; only listed proxies may set it.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) (*gin.Engine, error) {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine            *gin.Engine
	cfg               config.Config
	log               *zap.Logger
	apiKeySvc         apikeydomain.Service
	authzSvc          authorization.Service
	ledgerSvc         ledgerdomain.Service
	admissionSvc      admissiondomain.Service
	usageSvc          usagedomain.Service
	quotaSvc          quotadomain.Service
	reconciliationSvc reconciliationdomain.Service
	executor          *metering.Executor
	agent             *agent.Client
	catalog           *catalog.Holder
	callerLimiter     *ratelimit.CallerLimiter
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	Log               *zap.Logger
	APIKeySvc         apikeydomain.Service
	AuthzSvc          authorization.Service
	LedgerSvc         ledgerdomain.Service
	AdmissionSvc      admissiondomain.Service
	UsageSvc          usagedomain.Service
	QuotaSvc          quotadomain.Service
	ReconciliationSvc reconciliationdomain.Service
	Executor          *metering.Executor
	Agent             *agent.Client
	Catalog           *catalog.Holder
	CallerLimiter     *ratelimit.CallerLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		log:               p.Log.Named("http.server"),
		apiKeySvc:         p.APIKeySvc,
		authzSvc:          p.AuthzSvc,
		ledgerSvc:         p.LedgerSvc,
		admissionSvc:      p.AdmissionSvc,
		usageSvc:          p.UsageSvc,
		quotaSvc:          p.QuotaSvc,
		reconciliationSvc: p.ReconciliationSvc,
		executor:          p.Executor,
		agent:             p.Agent,
		catalog:           p.Catalog,
		callerLimiter:     p.CallerLimiter,
	}

	s.registerGatewayRoutes()
	s.registerBillingRoutes()
	s.registerAdminRoutes()
	s.registerFallback()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerGatewayRoutes serves the chat gateway: paywall checks and metered
// agent calls on behalf of end users.
func (s *Server) registerGatewayRoutes() {
	v1 := s.engine.Group("/v1", s.APIKeyRequired())

	v1.POST("/admission",
		s.authorizeAction(authorization.ObjectAdmission, authorization.ActionAdmissionAuthorize),
		s.CallerRateLimit(),
		s.Authorize,
	)
	v1.POST("/usage",
		s.authorizeAction(authorization.ObjectUsage, authorization.ActionUsageRecord),
		s.RecordUsage,
	)
	v1.POST("/agents/:operation/invoke",
		s.authorizeAction(authorization.ObjectAgent, authorization.ActionAgentInvoke),
		s.CallerRateLimit(),
		s.InvokeAgent,
	)
	v1.GET("/free-trial",
		s.authorizeAction(authorization.ObjectFreeTrial, authorization.ActionTrialView),
		s.PeekFreeTrial,
	)
}

func (s *Server) registerBillingRoutes() {
	v1 := s.engine.Group("/v1", s.APIKeyRequired())

	// -------- Accounts --------
	v1.POST("/accounts", s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountProvision), s.ProvisionAccount)
	v1.GET("/accounts/:id/balance", s.authorizeAction(authorization.ObjectAccount, authorization.ActionBalanceView), s.GetBalance)
	v1.PUT("/accounts/:id/plan", s.authorizeAction(authorization.ObjectAccount, authorization.ActionPlanSet), s.SetPlan)
	v1.POST("/accounts/:id/top-ups", s.authorizeAction(authorization.ObjectAccount, authorization.ActionCreditTopUp), s.TopUp)

	// -------- Transactions --------
	v1.GET("/accounts/:id/transactions", s.authorizeAction(authorization.ObjectTransaction, authorization.ActionTransactionView), s.ListTransactions)
	v1.GET("/transactions/:id", s.authorizeAction(authorization.ObjectTransaction, authorization.ActionTransactionView), s.GetTransaction)

	// -------- Reconciliation --------
	v1.GET("/reconciliation", s.authorizeAction(authorization.ObjectReconciliation, authorization.ActionReconciliationView), s.ListReconciliation)
	v1.POST("/reconciliation/:id/resolve", s.authorizeAction(authorization.ObjectReconciliation, authorization.ActionReconciliationResolve), s.ResolveReconciliation)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.APIKeyRequired())

	admin.GET("/api-keys", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	admin.POST("/api-keys", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	admin.POST("/api-keys/:key_id/rotate", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRotate), s.RotateAPIKey)
	admin.DELETE("/api-keys/:key_id", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
