package identity

import (
	"errors"
	"fmt"
	"sync"

	"coopsim.io/internal/protocol"
	"coopsim.io/internal/sim/host"
)

// Form id layout.
const (
	lightMarker = 0xFE
	tempMarker  = 0xFF

	standardBaseMask = 0x00FFFFFF
	lightBaseMask    = 0x00000FFF
	lightIndexMask   = 0x00000FFF
	maxStandardIndex = 0xFD
)

var ErrModConflict = errors.New("mod already registered")

// Mod binds a relay-assigned mod id to the mod's local load-order slot.
type Mod struct {
	ServerID uint32
	Name     string
	Light    bool
	// Index is the load-order index, 0..0xFD for standard mods and
	// 0..0xFFF for light mods.
	Index uint16
}

type slot struct {
	light bool
	index uint16
}

// Definitions translates between GameIDs and local FormIDs.
type Definitions struct {
	mu       sync.RWMutex
	byServer map[uint32]slot
	bySlot   map[slot]uint32
	explicit map[protocol.GameID]host.FormID
	cache    map[protocol.GameID]host.FormID
}

func NewDefinitions() *Definitions {
	return &Definitions{
		byServer: map[uint32]slot{},
		bySlot:   map[slot]uint32{},
		explicit: map[protocol.GameID]host.FormID{},
		cache:    map[protocol.GameID]host.FormID{},
	}
}

// RegisterMod adds m to the mod table.
func (d *Definitions) RegisterMod(m Mod) error {
	if m.Light && m.Index > lightIndexMask {
		return fmt.Errorf("light mod %q: index %#x out of range", m.Name, m.Index)
	}
	if !m.Light && m.Index > maxStandardIndex {
		return fmt.Errorf("mod %q: index %#x out of range", m.Name, m.Index)
	}
	s := slot{light: m.Light, index: m.Index}
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.byServer[m.ServerID]; ok && prev != s {
		return fmt.Errorf("%w: server id %d", ErrModConflict, m.ServerID)
	}
	if prev, ok := d.bySlot[s]; ok && prev != m.ServerID {
		return fmt.Errorf("%w: slot %#x", ErrModConflict, m.Index)
	}
	d.byServer[m.ServerID] = s
	d.bySlot[s] = m.ServerID
	return nil
}

// Register pins gid to a local form. Pinned entries win over the mod table.
func (d *Definitions) Register(gid protocol.GameID, local host.FormID) {
	d.mu.Lock()
	d.explicit[gid] = local
	d.mu.Unlock()
}

// Lookup resolves gid to a local form id. Content that is not installed
// locally is reported as not found.
func (d *Definitions) Lookup(gid protocol.GameID) (host.FormID, bool) {
	d.mu.RLock()
	if id, ok := d.explicit[gid]; ok {
		d.mu.RUnlock()
		return id, true
	}
	if id, ok := d.cache[gid]; ok {
		d.mu.RUnlock()
		return id, true
	}
	s, ok := d.byServer[gid.ModID]
	d.mu.RUnlock()
	if !ok {
		return 0, false
	}

	var id host.FormID
	if s.light {
		if gid.BaseID > lightBaseMask {
			return 0, false
		}
		id = host.FormID(lightMarker<<24 | uint32(s.index)<<12 | gid.BaseID)
	} else {
		if gid.BaseID > standardBaseMask {
			return 0, false
		}
		id = host.FormID(uint32(s.index)<<24 | gid.BaseID)
	}

	d.mu.Lock()
	d.cache[gid] = id
	d.mu.Unlock()
	return id, true
}

// ToGameID describes a local form id to other participants. Runtime-created
// forms and forms of unregistered mods have no GameID.
func (d *Definitions) ToGameID(id host.FormID) (protocol.GameID, bool) {
	if id == 0 {
		return protocol.GameID{}, false
	}
	raw := uint32(id)
	var (
		s    slot
		base uint32
	)
	switch raw >> 24 {
	case tempMarker:
		return protocol.GameID{}, false
	case lightMarker:
		s = slot{light: true, index: uint16((raw >> 12) & lightIndexMask)}
		base = raw & lightBaseMask
	default:
		s = slot{index: uint16(raw >> 24)}
		base = raw & standardBaseMask
	}
	d.mu.RLock()
	server, ok := d.bySlot[s]
	d.mu.RUnlock()
	if !ok {
		return protocol.GameID{}, false
	}
	return protocol.GameID{ModID: server, BaseID: base}, true
}

// Reset drops every mod, pinned entry and cached lookup.
func (d *Definitions) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.byServer)
	clear(d.bySlot)
	clear(d.explicit)
	clear(d.cache)
}
