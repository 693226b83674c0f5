package app

import (
	"context"
	"fmt"

	"github.com/Sivtheng/message-maxy/internal/app/services/janitor"
	"github.com/Sivtheng/message-maxy/internal/app/services/messaging"
	"github.com/Sivtheng/message-maxy/internal/app/services/realtime"
	"github.com/Sivtheng/message-maxy/internal/app/system"
	"github.com/Sivtheng/message-maxy/internal/app/ui"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/backend/provider"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// Options tune the background components.
type Options struct {
	// JanitorSchedule is a cron expression; empty uses the janitor default.
	JanitorSchedule string
}

// Application ties the data-access services and view components to one
// backend handle and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Backend   *backend.Handle
	Messaging *messaging.Service
	Realtime  *realtime.Service
	Janitor   *janitor.Janitor

	Navbar        *ui.Navbar
	Authenticator *ui.Authenticator
}

// New builds an application around handle. A nil handle, or one with
// missing parts, yields an application whose operations degrade.
func New(handle *backend.Handle, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if handle == nil {
		handle = &backend.Handle{}
	}

	manager := system.NewManager()

	msgService := messaging.New(handle, log.Named("messaging"))
	liveService := realtime.New(handle, log.Named("realtime"))

	for _, name := range []string{"messaging", "realtime"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	sweeper, err := janitor.New(opts.JanitorSchedule, log.Named("janitor"))
	if err != nil {
		return nil, err
	}
	if purger, ok := handle.Auth.(provider.Purger); ok {
		sweeper.Add(janitor.Task{Name: "token-revocations", Run: func(context.Context) (int, error) {
			return purger.PurgeExpired(), nil
		}})
	}
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager:       manager,
		log:           log,
		Backend:       handle,
		Messaging:     msgService,
		Realtime:      liveService,
		Janitor:       sweeper,
		Navbar:        ui.NewNavbar(msgService, log.Named("navbar")),
		Authenticator: ui.NewAuthenticator(msgService, log.Named("authform")),
	}, nil
}

// Conversation opens a live conversation controller for userID.
func (a *Application) Conversation(userID string, sink func(ui.Thread)) *ui.Conversation {
	return ui.NewConversation(a.Realtime, userID, sink, a.log.Named("conversation"))
}

// Composer returns a message composer between two users.
func (a *Application) Composer(from, to string) *ui.Composer {
	return ui.NewComposer(a.Messaging, from, to)
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered lifecycle services in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
