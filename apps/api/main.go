package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	echoapi "github.com/trezcool/chuo/apps/api/echo"
	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/audit"
	"github.com/trezcool/chuo/core/form"
	"github.com/trezcool/chuo/core/notify"
	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/core/user"
	appfs "github.com/trezcool/chuo/fs"
	"github.com/trezcool/chuo/services/channels"
	emailsvc "github.com/trezcool/chuo/services/email"
	logsvc "github.com/trezcool/chuo/services/logger"
	"github.com/trezcool/chuo/storage/database"
	inmemdb "github.com/trezcool/chuo/storage/database/inmem"
	sqlxrepos "github.com/trezcool/chuo/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up storage
	stores, err := setUpStores(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err = stores.close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	rdb, err := setUpRedis(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up redis: %v", err), err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	// set up validators
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	schemaValidator, err := schema.NewValidator(validate, translator)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up schema validator: %v", err), err)
	}

	// set up audit logger
	var auditSink audit.Sink = audit.NewStoreSink(stores.audits)
	if conf.Audit.Endpoint != "" {
		auditSink = audit.NewHTTPSink(conf.Audit.Endpoint, conf.Audit.APIKey, conf.Audit.Timeout)
	}
	auditLog := audit.NewLogger(auditSink, logger, audit.WithTimeout(conf.Audit.Timeout))
	defer func() {
		auditLog.Flush() // entries are bounded by conf.Audit.Timeout
		auditLog.Close()
	}()

	// set up notifications: payloads are routed here unless a remote endpoint handles them
	router := notify.NewRouter(stores.notifs, logger)
	var notifySink notify.Sink = router
	if conf.Notify.Endpoint != "" {
		notifySink = notify.NewHTTPSink(conf.Notify.Endpoint, conf.Notify.APIKey, conf.Notify.Timeout)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	usrSvc := user.NewService(user.Deps{
		Conf:      conf,
		Repo:      stores.users,
		Validator: schemaValidator,
		Mail:      mailSvc,
		Audit:     auditLog,
		Notifier:  notify.NewDispatcher(notifySink),
		Logger:    logger,
	})

	// set up notification channels
	directory := channels.NewUserDirectory(usrSvc)
	router.
		Route(notify.ChannelEmail, channels.NewEmail(mailSvc, directory)).
		Route(notify.ChannelSMS, channels.NewConsoleSMS(directory, logger))
	if conf.Push.VAPIDPrivateKey != "" {
		router.Route(notify.ChannelPush, channels.NewPush(conf.Push, stores.subs, logger).
			WithHTTPClient(&http.Client{Timeout: conf.Notify.Timeout}))
	}
	var (
		inbox  echoapi.Inbox = stores.notifs
		events echoapi.EventSource
	)
	if rdb != nil {
		inApp := channels.NewInApp(rdb)
		router.Route(notify.ChannelInApp, inApp)
		inbox = inApp
		events = func(ctx context.Context) *redis.PubSub { return channels.Subscribe(ctx, rdb) }
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(appfs.FS, conf, logger)

	user.LoadCommonPasswords(appfs.FS, logger)

	schemas := schema.Builtin()
	if err = schemas.LoadFS(appfs.FS, "schemas"); err != nil {
		logger.Fatal(fmt.Sprintf("loading schemas: %v", err), err)
	}
	if err = schemas.Register(usrSvc.FormSchema()); err != nil {
		logger.Fatal(fmt.Sprintf("registering user schema: %v", err), err)
	}

	formsCtx, stopForms := context.WithCancel(context.Background())
	defer stopForms()
	forms := form.NewManager(formsCtx, schemaValidator, schemas, logger,
		form.WithIdleTimeout(conf.Forms.IdleTimeout),
		form.WithMaxPerOwner(conf.Forms.MaxPerUser),
	)
	forms.Handle("user", usrSvc.SubmitCreate)
	defer forms.CloseAll()
	go forms.Run(time.Minute)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			UserSvc:       usrSvc,
			Validate:      validate,
			Translator:    translator,
			Validator:     schemaValidator,
			Schemas:       schemas,
			Forms:         forms,
			AuditStore:    stores.audits,
			NotifySink:    router,
			Inbox:         inbox,
			Subscriptions: stores.subs,
			Events:        events,
			StatusCheck:   statusCheck(stores, rdb),
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

type stores struct {
	db     *sqlx.DB // nil when in memory
	users  user.Repository
	audits audit.Store
	notifs notify.Store
	subs   notify.SubscriptionStore
}

func (s stores) close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func setUpStores(conf *core.Config) (stores, error) {
	if conf.Database.InMemory {
		return stores{
			users:  inmemdb.NewUserRepository(inmemdb.Open()),
			audits: audit.NewMemoryStore(),
			notifs: notify.NewMemoryStore(),
			subs:   notify.NewMemorySubscriptions(),
		}, nil
	}

	db, err := setUpDB(conf)
	if err != nil {
		return stores{}, err
	}
	return stores{
		db:     db,
		users:  sqlxrepos.NewUserRepository(db),
		audits: sqlxrepos.NewAuditStore(db),
		notifs: sqlxrepos.NewNotificationStore(db),
		subs:   sqlxrepos.NewSubscriptionStore(db),
	}, nil
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// setUpRedis connects to redis, unless disabled (nil client).
func setUpRedis(conf *core.Config) (*redis.Client, error) {
	if conf.Redis.Disabled {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

func statusCheck(s stores, rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if s.db != nil {
			if err := database.StatusCheck(ctx, s.db); err != nil {
				return err
			}
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}
}
