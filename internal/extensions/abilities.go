package extensions

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"gridframe/server/pkg/errors"
)

// Ability is a named callable exposed by an extension
type Ability func(ctx context.Context, args map[string]any) (any, error)

type abilityEntry struct {
	fn Ability
	// capability, when set, must be declared by the extension's provider
	// bindings before the ability may run.
	capability string
}

// AbilityRegistry indexes abilities by (extension, name). Invocations are
// rate-limited per extension so one misbehaving caller cannot starve the
// rest.
type AbilityRegistry struct {
	mu           sync.RWMutex
	abilities    map[string]map[string]abilityEntry
	capabilities map[string]map[string]struct{}
	limiters     map[string]*rate.Limiter

	limit rate.Limit
	burst int
}

// NewAbilityRegistry creates a registry with a per-extension invocation
// rate limit.
func NewAbilityRegistry(perSecond float64, burst int) *AbilityRegistry {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = 10
	}
	return &AbilityRegistry{
		abilities:    make(map[string]map[string]abilityEntry),
		capabilities: make(map[string]map[string]struct{}),
		limiters:     make(map[string]*rate.Limiter),
		limit:        rate.Limit(perSecond),
		burst:        burst,
	}
}

// Register adds an ability. A non-empty capability gates invocation on the
// extension's declared provider capabilities.
func (r *AbilityRegistry) Register(extID, name string, fn Ability, capability string) error {
	if extID == "" || name == "" || fn == nil {
		return fmt.Errorf("ability registration requires extension, name and function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abilities[extID] == nil {
		r.abilities[extID] = make(map[string]abilityEntry)
	}
	r.abilities[extID][name] = abilityEntry{fn: fn, capability: capability}
	return nil
}

// DeclareCapabilities records the capabilities an extension's providers
// support.
func (r *AbilityRegistry) DeclareCapabilities(extID string, caps ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capabilities[extID] == nil {
		r.capabilities[extID] = make(map[string]struct{})
	}
	for _, c := range caps {
		r.capabilities[extID][c] = struct{}{}
	}
}

// Names lists an extension's registered ability names
func (r *AbilityRegistry) Names(extID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.abilities[extID]))
	for name := range r.abilities[extID] {
		out = append(out, name)
	}
	return out
}

// Execute invokes an ability. Unknown abilities are NotFound; abilities
// gated on an undeclared capability are Denied.
func (r *AbilityRegistry) Execute(ctx context.Context, extID, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	entry, ok := r.abilities[extID][name]
	var capable bool
	if ok && entry.capability != "" {
		_, capable = r.capabilities[extID][entry.capability]
	} else {
		capable = true
	}
	limiter := r.limiters[extID]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NewNotFoundError("ability", extID+"/"+name)
	}
	if !capable {
		return nil, errors.NewPermissionDenied(fmt.Sprintf("extension %s does not support %s", extID, entry.capability))
	}

	if limiter == nil {
		r.mu.Lock()
		limiter = r.limiters[extID]
		if limiter == nil {
			limiter = rate.NewLimiter(r.limit, r.burst)
			r.limiters[extID] = limiter
		}
		r.mu.Unlock()
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ability %s/%s cancelled: %w", extID, name, err)
	}

	return entry.fn(ctx, args)
}
