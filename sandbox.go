// Package sandbox wires the DotPassport sandbox client: persisted local state,
// the sandbox backend client, wallet extensions, the session controller, the
// connect dialog and the playground.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/passport-sandbox/adapters/backend"
	"github.com/layer-3/passport-sandbox/adapters/dotpassport"
	"github.com/layer-3/passport-sandbox/adapters/events"
	"github.com/layer-3/passport-sandbox/adapters/extension"
	"github.com/layer-3/passport-sandbox/adapters/scheduler"
	"github.com/layer-3/passport-sandbox/adapters/store"
	"github.com/layer-3/passport-sandbox/config"
	"github.com/layer-3/passport-sandbox/modal"
	"github.com/layer-3/passport-sandbox/ports"
	"github.com/layer-3/passport-sandbox/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the wired components
type App struct {
	Config *config.Config

	Store       ports.Store
	Extensions  *extension.Registry
	Keystore    *extension.Keystore
	Backend     *backend.Client
	Wallet      *service.WalletConnector
	Session     *service.AuthSessionController
	Modal       *modal.Machine
	Addresses   *service.AddressBook
	Preferences *service.Preferences
	Playground  *service.Playground
	Metrics     *prometheus.Registry

	logger     *zap.Logger
	subscriber message.Subscriber
	closers    []func() error
}

type options struct {
	extensions []ports.Extension
	scheduler  ports.Scheduler
	store      ports.Store
}

// Option customizes New
type Option func(*options)

// WithExtensions injects wallet extensions next to the configured keystore
func WithExtensions(exts ...ports.Extension) Option {
	return func(o *options) { o.extensions = append(o.extensions, exts...) }
}

// WithScheduler replaces the timer used for the dialog's auto-close
func WithScheduler(s ports.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithStore replaces the configured storage driver
func WithStore(s ports.Store) Option {
	return func(o *options) { o.store = s }
}

// New builds the client from cfg
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{scheduler: scheduler.New()}
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Config: cfg, logger: logger, Metrics: prometheus.NewRegistry()}

	var err error
	app.Store = o.store
	if app.Store == nil {
		if app.Store, err = app.openStore(cfg.Storage); err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	publisher, err := app.openEvents(cfg.Events)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Extensions = extension.NewRegistry(o.extensions...)
	if len(cfg.Wallet.Keystore.Keys) > 0 {
		if app.Keystore, err = openKeystore(cfg.Wallet.Keystore); err != nil {
			_ = app.Close()
			return nil, err
		}
		app.Extensions.Inject(app.Keystore)
	}

	app.Backend = backend.New(cfg.API.BaseURL, app.Store, logger.Named("backend"),
		backend.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		backend.WithMetrics(backend.NewMetrics(app.Metrics)),
	)

	app.Wallet = service.NewWalletConnector(app.Extensions, app.Store, logger.Named("wallet"))
	app.Session = service.NewAuthSessionController(app.Backend, app.Wallet, app.Store, publisher, logger.Named("session"))
	app.Session.SetAppName(cfg.AppName)

	app.Modal = modal.New(app.Wallet, app.Session, o.scheduler, logger.Named("modal"),
		modal.WithAppName(cfg.AppName),
		modal.WithDelays(modal.Delays{
			NewAccount: cfg.Modal.NewAccountDelay,
			Default:    cfg.Modal.DefaultDelay,
			Reconnect:  cfg.Modal.ReconnectDelay,
		}),
	)
	app.closers = append(app.closers, func() error {
		app.Modal.Stop()
		return nil
	})

	app.Addresses = service.NewAddressBook(app.Store, logger.Named("addresses"))
	app.Preferences = service.NewPreferences(app.Store, logger.Named("preferences"))
	app.Playground = service.NewPlayground(
		dotpassport.New(cfg.Passport.BaseURL, cfg.Passport.Timeout),
		app.Session,
		app.Addresses,
		app.Store,
		logger.Named("playground"),
	)

	logger.Debug("sandbox client ready",
		zap.String("api", cfg.API.BaseURL),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("events", cfg.Events.Driver),
		zap.Int("extensions", len(app.Extensions.Extensions())),
	)
	return app, nil
}

func (a *App) openStore(cfg config.StorageConfig) (ports.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return store.NewMemoryStore(), nil
	case config.StorageFile:
		return store.NewFileStore(cfg.Path, a.logger.Named("store"))
	case config.StorageRedis:
		client, err := a.redisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store.NewRedisStore(client, cfg.Prefix), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func (a *App) openEvents(cfg config.EventsConfig) (ports.EventPublisher, error) {
	wmLogger := events.NewZapLogger(a.logger.Named("watermill"))

	switch cfg.Driver {
	case config.EventsGoChannel:
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		a.subscriber = pubSub
		a.closers = append(a.closers, pubSub.Close)
		return events.NewWatermillPublisher(pubSub), nil

	case config.EventsRedis:
		client, err := a.redisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{Client: client}, wmLogger)
		if err != nil {
			_ = publisher.Close()
			return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
		}
		a.subscriber = subscriber
		a.closers = append(a.closers, subscriber.Close, publisher.Close)
		return events.NewWatermillPublisher(publisher), nil
	}
	return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
}

func (a *App) redisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// openKeystore imports the configured keys in name order
func openKeystore(cfg config.KeystoreConfig) (*extension.Keystore, error) {
	ks := extension.NewKeystore(cfg.Name)

	names := make([]string, 0, len(cfg.Keys))
	for name := range cfg.Keys {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := ks.Import(name, cfg.Keys[name]); err != nil {
			return nil, fmt.Errorf("keystore key %s: %w", name, err)
		}
	}
	return ks, nil
}

// SessionTopics are the topics WatchSession follows
var SessionTopics = []string{
	ports.TopicLoggedIn,
	ports.TopicLoggedOut,
	ports.TopicSessionExpired,
	ports.TopicReconnectNeeded,
}

// WatchSession calls fn for every session event until ctx ends. It returns
// once the subscriptions are established.
func (a *App) WatchSession(ctx context.Context, fn func(topic string, event ports.SessionEvent)) error {
	if a.subscriber == nil {
		return errors.New("no event subscriber configured")
	}

	for _, topic := range SessionTopics {
		messages, err := a.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		go func(topic string, messages <-chan *message.Message) {
			for msg := range messages {
				event, err := events.Decode(msg)
				msg.Ack()
				if err != nil {
					a.logger.Warn("dropping malformed session event", zap.String("topic", topic), zap.Error(err))
					continue
				}
				fn(topic, event)
			}
		}(topic, messages)
	}
	return nil
}

// Close releases the event bus and the redis connections
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
