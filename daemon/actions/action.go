package actions

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

var (
	ErrInvalidAction   = errors.New("invalid action")
	ErrDuplicateAction = errors.New("duplicate action name")
)

// Result is what an action reports back for a single file.
type Result struct {
	Status Status
	// Path is where the file lives after the action ran; it differs from the input path after a rename.
	Path string
	// Outputs lists derived files the action created.
	Outputs []string
	Reason  string
}

func Applied(path string, outputs ...string) *Result {
	return &Result{
		Status:  StatusApplied,
		Path:    path,
		Outputs: outputs,
	}
}

func Skipped(path, reason string) *Result {
	return &Result{
		Status: StatusSkipped,
		Path:   path,
		Reason: reason,
	}
}

// Action is a unit of work applied to a single stabilized file. Implementations decide on their own whether a
// file concerns them and must treat a file that vanished in the meantime as a skip, not an error.
type Action interface {
	Name() string
	Applies(path string) bool
	Apply(ctx context.Context, path string) (*Result, error)
}

// Registry holds the actions in the order they run for every file. It's built once at startup and never
// changes afterwards.
type Registry struct {
	actions []Action
}

func NewRegistry(actions ...Action) (*Registry, error) {
	seen := make(map[string]struct{}, len(actions))
	for i, action := range actions {
		if action == nil {
			return nil, fmt.Errorf("action #%d is nil: %w", i, ErrInvalidAction)
		}
		name := action.Name()
		if name == "" {
			return nil, fmt.Errorf("action #%d has no name: %w", i, ErrInvalidAction)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%s: %w", name, ErrDuplicateAction)
		}
		seen[name] = struct{}{}
	}

	return &Registry{
		actions: slices.Clone(actions),
	}, nil
}

// Ordered returns the registered actions in registration order.
func (r *Registry) Ordered() []Action {
	return slices.Clone(r.actions)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for _, action := range r.actions {
		names = append(names, action.Name())
	}
	return names
}
