// Package commands exposes the user-facing actions as named commands.
package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/internal/panels"
	"github.com/brandon/mailview/internal/tree"
	"github.com/brandon/mailview/pkg/types"
)

// Command is one named action
type Command interface {
	Name() string
	Description() string
	Required() []string
	Execute(ctx context.Context, args Args) (interface{}, error)
}

// Mailer performs message operations for commands
type Mailer interface {
	MarkSeen(ctx context.Context, accountID, folder string, uid uint32, seen bool) error
	Delete(ctx context.Context, accountID, folder string, uid uint32) error
	Move(ctx context.Context, accountID, folder string, uid uint32, dest string) error
	Attachment(ctx context.Context, accountID, folder string, uid uint32, filename string) (*types.Attachment, error)
	Send(ctx context.Context, accountID string, msg *email.EmailMessage) error
	TestAccount(ctx context.Context, accountID string) error
}

// TreeRefresher reloads the folder tree
type TreeRefresher interface {
	Refresh(ctx context.Context, node *tree.Node, forceReconnect bool)
	ForceReconnect(ctx context.Context)
}

// AccountRemover deletes an account from the account store
type AccountRemover interface {
	Remove(id string) error
}

// FolderCache drops an account's cached folders and snapshot
type FolderCache interface {
	Remove(accountID string)
}

// BadgeForgetter drops a removed account from the badge
type BadgeForgetter interface {
	Forget(accountID string)
}

// Deps are the collaborators commands act on
type Deps struct {
	Mail     Mailer
	Panels   *panels.Registry
	Tree     TreeRefresher
	Accounts AccountRemover
	Folders  FolderCache
	Badge    BadgeForgetter
}

// Registry manages commands
type Registry struct {
	logger   *logrus.Logger
	commands map[string]Command
}

// Definition describes a command to the host
type Definition struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
}

// NewRegistry creates a registry with every command
func NewRegistry(deps Deps, logger *logrus.Logger) *Registry {
	r := &Registry{
		logger:   logger,
		commands: make(map[string]Command),
	}
	for _, cmd := range builtins(deps, logger) {
		r.Register(cmd)
	}
	r.logger.WithField("count", len(r.commands)).Info("Registered commands")
	return r
}

// Register adds or replaces a command
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
	r.logger.WithField("command", cmd.Name()).Debug("Registered command")
}

// Get returns a command by name
func (r *Registry) Get(name string) (Command, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Definitions returns every command sorted by name
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.commands))
	for _, cmd := range r.commands {
		defs = append(defs, Definition{
			Name:        cmd.Name(),
			Description: cmd.Description(),
			Required:    cmd.Required(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Call decodes raw arguments, checks required ones and runs the command
func (r *Registry) Call(ctx context.Context, name string, raw []byte) (interface{}, error) {
	cmd, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", name)
	}
	args, err := DecodeArgs(raw)
	if err != nil {
		return nil, err
	}
	if err := args.require(cmd.Required()...); err != nil {
		return nil, err
	}

	result, err := cmd.Execute(ctx, args)
	if err != nil {
		r.logger.WithError(err).WithField("command", name).Warn("Command failed")
		return nil, err
	}
	return result, nil
}

// command adapts a function to Command
type command struct {
	name        string
	description string
	required    []string
	run         func(ctx context.Context, args Args) (interface{}, error)
}

func (c *command) Name() string        { return c.name }
func (c *command) Description() string { return c.description }
func (c *command) Required() []string  { return c.required }

func (c *command) Execute(ctx context.Context, args Args) (interface{}, error) {
	return c.run(ctx, args)
}
