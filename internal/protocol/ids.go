package protocol

import "fmt"

// NetworkID is a participant-independent entity id. Zero means "no id".
type NetworkID uint32

func (id NetworkID) String() string { return fmt.Sprintf("%X", uint32(id)) }

// GameID identifies a content definition independently of load order:
// the relay-assigned id of the mod that defines it plus the id inside that mod.
type GameID struct {
	ModID  uint32 `json:"mod_id"`
	BaseID uint32 `json:"base_id"`
}

func (g GameID) String() string { return fmt.Sprintf("mod:%X base:%X", g.ModID, g.BaseID) }

// Casting sources as they appear on the wire.
const (
	CastingSourceLeftHand  uint8 = 0
	CastingSourceRightHand uint8 = 1
	CastingSourceOther     uint8 = 2
	CastingSourceInstant   uint8 = 3

	// CastingSourceCount is the first out-of-range value.
	CastingSourceCount uint8 = 4
)
