// Package plugin implements the static plugin runtime: compile-time
// registered plugins enabled through YAML manifests in the plugin
// directory, validated into a copy-on-reload registry with per-plugin
// stats.
package plugin

import (
	"context"
	"log"
	"time"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/message"
	"github.com/hermesbot/hermes/internal/perm"
	"github.com/hermesbot/hermes/internal/sched"
	"github.com/hermesbot/hermes/internal/store"
	"github.com/hermesbot/hermes/internal/transport"
)

// Descriptor declares a plugin's commands and gates.
type Descriptor struct {
	Name        string
	Version     string
	Category    string
	Description string
	Usage       string
	Example     string
	Commands    []string
	Aliases     []string
	OwnerOnly   bool
	AdminOnly   bool
	GroupOnly   bool
}

// Store is the slice of the document store plugins may touch.
// Satisfied by *store.Client; nil when the store is not configured.
type Store interface {
	Ban(ctx context.Context, jid string) error
	Unban(ctx context.Context, jid string) error
	SetMode(ctx context.Context, mode string) error
	SaveJob(ctx context.Context, rec store.JobRecord) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context, plugin string) ([]store.JobRecord, error)
}

// Context is handed to Run for one command invocation.
type Context struct {
	Message  *message.Message
	Client   transport.Client
	Config   *config.Config
	Logger   *log.Logger
	Command  string   // matched command token
	Args     []string // tokenized arguments
	ArgsText string   // raw argument text

	Perm  *perm.Oracle
	Rate  *perm.RateLimiter
	Store Store
	Sched *sched.Scheduler

	Registry  *Registry
	StartedAt time.Time

	Send func(ctx context.Context, to string, msg *transport.Outgoing) (string, error)
}

// LoadContext is handed to OnLoad once the transport first reaches
// running. This is the only hook permitted to register scheduled jobs.
type LoadContext struct {
	Client transport.Client
	Config *config.Config
	Logger *log.Logger
	Store  Store
	Sched  *sched.Scheduler
	Send   func(ctx context.Context, to string, msg *transport.Outgoing) (string, error)
}

// Plugin is the static plugin contract.
type Plugin interface {
	Descriptor() Descriptor
	Run(ctx context.Context, pctx *Context) error
}

// Loader is implemented by plugins that need a lifecycle hook when
// references become available.
type Loader interface {
	OnLoad(ctx context.Context, lctx *LoadContext) error
}

// Unloader is implemented by plugins that must release resources
// (registered jobs in particular) on reload or shutdown.
type Unloader interface {
	OnUnload()
}

// MemberHook is implemented by plugins that want a callback when a
// member joins a group.
type MemberHook interface {
	OnMemberJoin(ctx context.Context, groupJID, memberJID string)
}

var builtins []Plugin

// RegisterBuiltin adds a compiled-in plugin to the discovery set.
// Called from init() in the builtin package; registration order is
// load order.
func RegisterBuiltin(p Plugin) {
	builtins = append(builtins, p)
}

// Builtins returns the compiled-in plugins in registration order.
func Builtins() []Plugin {
	return append([]Plugin(nil), builtins...)
}
