package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gridframe/server/pkg/logger"
)

// Op is a pipeline operation hooks can attach to
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Phase is the hook phase relative to persistence
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Event is what a hook receives. Before-hooks may mutate Record (the draft)
// and Changes; after-hooks observe the persisted result, plus the pre-image
// on update.
type Event struct {
	Kind      string
	Op        Op
	Phase     Phase
	Principal uuid.UUID
	Record    Record
	Previous  Record
	Changes   map[string]any
}

// HookFunc runs inside the operation's transaction. An error from a before
// hook aborts the operation; an error from a critical after hook rolls the
// transaction back.
type HookFunc func(ctx context.Context, tx *gorm.DB, ev *Event) error

// Registration identifies a hook. Registration is idempotent by
// (ExtensionID, Kind, Op, Phase, HookID).
type Registration struct {
	ExtensionID string // empty for core hooks
	Kind        string
	Op          Op
	Phase       Phase
	HookID      string
	NonCritical bool
	Fn          HookFunc
}

type hookKey struct {
	kind  string
	op    Op
	phase Phase
}

type identKey struct {
	ext    string
	kind   string
	op     Op
	phase  Phase
	hookID string
}

// Hooks is the process-wide hook registry. It is append-only once sealed
// (after the extension loader completes) and safe for concurrent reads.
type Hooks struct {
	mu      sync.RWMutex
	sealed  bool
	entries map[hookKey][]Registration
	seen    map[identKey]struct{}
}

// NewHooks creates an empty hook registry
func NewHooks() *Hooks {
	return &Hooks{
		entries: make(map[hookKey][]Registration),
		seen:    make(map[identKey]struct{}),
	}
}

// Register attaches a hook. Duplicate registrations are ignored; registering
// after Seal is an error.
func (h *Hooks) Register(reg Registration) error {
	if reg.Kind == "" || reg.HookID == "" || reg.Fn == nil {
		return fmt.Errorf("hook registration requires kind, hook id and function")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return fmt.Errorf("hook registry is sealed; extensions register hooks during load")
	}
	ident := identKey{ext: reg.ExtensionID, kind: reg.Kind, op: reg.Op, phase: reg.Phase, hookID: reg.HookID}
	if _, dup := h.seen[ident]; dup {
		return nil
	}
	h.seen[ident] = struct{}{}
	key := hookKey{kind: reg.Kind, op: reg.Op, phase: reg.Phase}
	h.entries[key] = append(h.entries[key], reg)
	return nil
}

// Seal freezes the registry; called once extension loading completes.
func (h *Hooks) Seal() {
	h.mu.Lock()
	h.sealed = true
	h.mu.Unlock()
}

// ordered returns the hooks for a key: core hooks first, then extension
// hooks, each group in registration order.
func (h *Hooks) ordered(kind string, op Op, phase Phase) []Registration {
	h.mu.RLock()
	regs := h.entries[hookKey{kind: kind, op: op, phase: phase}]
	h.mu.RUnlock()
	if len(regs) == 0 {
		return nil
	}
	out := make([]Registration, 0, len(regs))
	for _, r := range regs {
		if r.ExtensionID == "" {
			out = append(out, r)
		}
	}
	for _, r := range regs {
		if r.ExtensionID != "" {
			out = append(out, r)
		}
	}
	return out
}

// run dispatches one phase. Non-critical after-hook failures are logged and
// swallowed so they cannot roll the transaction back.
func (h *Hooks) run(ctx context.Context, tx *gorm.DB, ev *Event) error {
	for _, reg := range h.ordered(ev.Kind, ev.Op, ev.Phase) {
		if err := reg.Fn(ctx, tx, ev); err != nil {
			if ev.Phase == PhaseAfter && reg.NonCritical {
				logger.Warn("non-critical hook failed",
					logger.String("kind", ev.Kind),
					logger.String("op", string(ev.Op)),
					logger.String("hook", reg.HookID),
					logger.Err(err))
				continue
			}
			return fmt.Errorf("hook %s/%s %s[%s]: %w", ev.Kind, ev.Op, ev.Phase, reg.HookID, err)
		}
	}
	return nil
}
