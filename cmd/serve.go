package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vibast-solutions/ms-go-payment-retries/app/controller"
	retrygrpc "github.com/vibast-solutions/ms-go-payment-retries/app/grpc"
	"github.com/vibast-solutions/ms-go-payment-retries/app/metrics"
	"github.com/vibast-solutions/ms-go-payment-retries/app/policy"
	"github.com/vibast-solutions/ms-go-payment-retries/app/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the payment retries service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type httpControllers struct {
	system    *controller.SystemController
	config    *controller.ConfigController
	campaigns *controller.CampaignController
	events    *controller.EventController
}

func runServe(_ *cobra.Command, _ []string) {
	app := mustCreateApplication()
	defer app.Close()
	cfg := app.cfg

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	controllers := httpControllers{
		system:    controller.NewSystemController(app.clock, cfg.Clock.ControlEnabled),
		config:    controller.NewConfigController(app.resolver),
		campaigns: controller.NewCampaignController(app.orchestrator),
		events:    controller.NewEventController(app.bus, app.webhook),
	}
	e := setupHTTPServer(app, controllers, echoInternalAuthMiddleware, cfg.App.ServiceName)
	grpcSrv, healthSrv, lis := setupGRPCServer(app, grpcInternalAuthMiddleware, cfg.App.ServiceName)

	ctx, stop := signalContext()
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		return grpcSrv.Serve(lis)
	})

	if cfg.Retry.DefaultsFile != "" {
		g.Go(func() error {
			return policy.WatchDefaults(gctx, cfg.Retry.DefaultsFile, func(defaults policy.RetryPolicy) {
				if err := app.resolver.SetDefaults(defaults); err != nil {
					logrus.WithError(err).Warn("Rejected reloaded retry defaults")
				}
			})
		})
	}

	if cfg.Clock.ControlEnabled {
		logrus.WithField("now", app.clock.Now()).Info("Clock control enabled, sweeps run on clock advance")
	} else {
		scheduler, err := newSweepScheduler(gctx, app)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to schedule sweeps")
		}
		scheduler.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-scheduler.Stop().Done()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down...")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("HTTP shutdown error")
		}
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Server error")
	}
	logrus.Info("Server stopped")
}

func setupHTTPServer(
	app *application,
	c httpControllers,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
	appServiceName string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(requireRequestID())
	e.Use(internalAuthMiddleware.RequireInternalAccess(appServiceName))

	e.GET("/health", c.system.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(app.registry)))
	e.GET("/clock", c.system.Clock)
	e.POST("/clock/advance", c.system.AdvanceClock)

	tenants := e.Group("/tenants/:tenant")
	tenants.PUT("/config", c.config.Upload)
	tenants.GET("/config", c.config.Get)
	tenants.DELETE("/config", c.config.Delete)
	tenants.GET("/config/history", c.config.History)
	tenants.GET("/schedule", c.config.Schedule)

	campaigns := e.Group("/campaigns")
	campaigns.POST("", c.campaigns.Start)
	campaigns.POST("/failures", c.campaigns.ReportFailure)
	campaigns.GET("/:id", c.campaigns.Get)
	campaigns.POST("/:id/cancel", c.campaigns.Cancel)

	e.POST("/accounts/:account/cancel", c.campaigns.CancelAccount)

	subscriptions := e.Group("/subscriptions")
	subscriptions.POST("", c.events.Subscribe)
	subscriptions.GET("", c.events.ListSubscriptions)
	subscriptions.DELETE("/:id", c.events.Unsubscribe)
	subscriptions.GET("/:id/deliveries", c.events.Deliveries)

	e.GET("/events", c.events.Events)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func setupGRPCServer(
	app *application,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
	appServiceName string,
) (*grpc.Server, *health.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(app.cfg.GRPC.Host, app.cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			retrygrpc.RecoveryInterceptor(),
			retrygrpc.RequestIDInterceptor(),
			retrygrpc.LoggingInterceptor(),
			internalAuthMiddleware.UnaryRequireInternalAccess(appServiceName),
		),
	)
	retrygrpc.RegisterRetryAdminServer(grpcSrv, retrygrpc.NewServer(app.resolver, app.orchestrator))

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	return grpcSrv, healthSrv, lis
}
