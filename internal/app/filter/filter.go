// Package filter provides the admission checks a user's pick must pass before
// it is committed to the session queue.
package filter

import (
	"context"
	"fmt"
	"sort"

	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

// Result is the admission decision for one pick.
type Result struct {
	Accepted bool
	Code     string // Rejection code shown to the user, e.g. "duplicate_track"
	Filter   string // Name of the rejecting filter, set by Chain
	Detail   string // Why the pick was rejected, for logs only
}

// Accept admits the pick.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject refuses the pick with a user-facing code.
func Reject(code string) Result {
	return Result{Code: code}
}

// Rejectf refuses the pick with a code and a log detail.
func Rejectf(code, format string, args ...any) Result {
	return Result{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Filter checks a resolved track before it joins the session queue.
type Filter interface {
	// Name is the key under filters: in the config file.
	Name() string
	Description() string
	// ReturnCodes lists the rejection codes, each of which has a configured message.
	ReturnCodes() []string
	// ValidateConfig decodes and validates settings from the config file.
	ValidateConfig(settings map[string]any) error
	// AppliesTo reports whether picks made by side are checked.
	AppliesTo(side song.Side) bool
	Check(ctx context.Context, t track.Track) Result
}

// registry holds the filters that can be built from settings alone. Filters
// that need session state are added by the session.
var registry = make(map[string]func() Filter)

// Register registers a filter factory under name.
func Register(name string, factory func() Filter) {
	if _, dup := registry[name]; dup {
		panic("filter: duplicate registration of " + name)
	}
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}

// Names returns the registered filter names in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
