// Package app composes the messaging application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Pure data: user profiles and messages
//	├── services/           # Data access (messaging), live feeds (realtime), janitor
//	├── ui/                 # View models for the auth, inbox, thread and navbar views
//	├── httpapi/            # REST, page and websocket endpoints over the ui layer
//	├── runtime/            # Config loading, backend selection, HTTP server
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/maxy/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app/httpapi ──► internal/app/ui
//	      │                                                  │
//	      ▼                                                  ▼
//	internal/backend/provider                   internal/app/services
//	                                                         │
//	                                                         ▼
//	                                                internal/backend
//
// Services never reach a provider directly. They receive a *backend.Handle
// and degrade when a part of it is nil.
package app
