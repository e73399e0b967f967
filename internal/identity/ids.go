package identity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SystemIDs holds the three distinguished principals. They are resolved from
// configuration exactly once at process startup.
type SystemIDs struct {
	Root     uuid.UUID
	System   uuid.UUID
	Template uuid.UUID
}

var (
	systemIDs   SystemIDs
	systemIDsMu sync.RWMutex
	configured  bool
)

// Configure installs the system principal IDs. Calling it again replaces the
// previous values; tests rely on that.
func Configure(ids SystemIDs) error {
	if ids.Root == uuid.Nil || ids.System == uuid.Nil || ids.Template == uuid.Nil {
		return fmt.Errorf("system principal IDs must be non-nil")
	}
	if ids.Root == ids.System || ids.Root == ids.Template || ids.System == ids.Template {
		return fmt.Errorf("system principal IDs must be distinct")
	}
	systemIDsMu.Lock()
	defer systemIDsMu.Unlock()
	systemIDs = ids
	configured = true
	return nil
}

// IDs returns the configured system principal IDs
func IDs() SystemIDs {
	systemIDsMu.RLock()
	defer systemIDsMu.RUnlock()
	return systemIDs
}

// Configured reports whether Configure has been called
func Configured() bool {
	systemIDsMu.RLock()
	defer systemIDsMu.RUnlock()
	return configured
}

// IsRoot reports whether id is the ROOT principal
func IsRoot(id uuid.UUID) bool {
	return id == IDs().Root
}

// IsSystem reports whether id is the SYSTEM principal
func IsSystem(id uuid.UUID) bool {
	return id == IDs().System
}

// IsTemplate reports whether id is the TEMPLATE principal
func IsTemplate(id uuid.UUID) bool {
	return id == IDs().Template
}

// IsPrivileged reports whether id is ROOT or SYSTEM
func IsPrivileged(id uuid.UUID) bool {
	ids := IDs()
	return id == ids.Root || id == ids.System
}
