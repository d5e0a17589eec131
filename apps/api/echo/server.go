package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/audit"
	"github.com/trezcool/chuo/core/form"
	"github.com/trezcool/chuo/core/notify"
	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/core/user"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		UserSvc    user.ServiceInterface
		Validate   *validator.Validate
		Translator ut.Translator

		Validator *schema.Validator
		Schemas   *schema.Registry
		Forms     *form.Manager

		AuditStore    audit.Store
		NotifySink    notify.Sink // receives the payloads posted to /api/notifications/send
		Inbox         Inbox
		Subscriptions notify.SubscriptionStore
		Events        EventSource // optional

		StatusCheck func(ctx context.Context) error // optional
	}

	Server interface {
		http.Handler
		Start()
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
		Shutdown(ctx context.Context) error
		Close() error
	}

	server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(deps ServerDeps) Server {
	s := &server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.deps.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	sessionStore := sessions.NewCookieStore([]byte(conf.SecretKey))
	sessionStore.Options.HttpOnly = true
	s.app.Use(clientContextMiddleware(sessionStore, conf.Server.SessionName, s.deps.Logger))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug
	s.app.HideBanner = true

	s.app.GET("/", home)
	s.app.GET("/health", s.health)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	jwt := middleware.JWTWithConfig(newJWTConfig(conf))

	v1 := s.app.Group("/v1")
	registerUserAPI(v1, jwt, conf, s.deps.UserSvc, s.deps.Validate)

	api := s.app.Group("/api")
	registerValidateAPI(api, &validateApi{
		validator: s.deps.Validator,
		schemas:   s.deps.Schemas,
		validate:  s.deps.Validate,
	})
	registerFormsAPI(api, jwt, &formsApi{
		forms:    s.deps.Forms,
		svc:      s.deps.UserSvc,
		validate: s.deps.Validate,
	})
	registerAuditAPI(api, jwt, apiKeyMiddleware(conf.Audit.APIKey), s.deps.AuditStore)
	registerNotifyAPI(api, jwt, apiKeyMiddleware(conf.Notify.APIKey), &notifyApi{
		sink:          s.deps.NotifySink,
		inbox:         s.deps.Inbox,
		subscriptions: s.deps.Subscriptions,
		events:        s.deps.Events,
		vapidKey:      conf.Push.VAPIDPublicKey,
		svc:           s.deps.UserSvc,
		validate:      s.deps.Validate,
		logger:        s.deps.Logger,
	})
}

func (s *server) Start() {
	srv := &http.Server{
		Addr:         s.deps.Conf.Server.Address,
		ReadTimeout:  s.deps.Conf.Server.ReadTimeout,
		WriteTimeout: s.deps.Conf.Server.WriteTimeout,
	}
	if err := s.app.StartServer(srv); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *server) Errors() <-chan error {
	return s.errors
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Chuo API!")
}

func (s *server) health(ctx echo.Context) error {
	status := "ok"
	code := http.StatusOK
	if s.deps.StatusCheck != nil {
		if err := s.deps.StatusCheck(ctx.Request().Context()); err != nil {
			status = "db not ready"
			code = http.StatusServiceUnavailable
		}
	}
	return ctx.JSON(code, echo.Map{"status": status, "build": s.deps.Conf.Build})
}
