package protocol

// HELLO (participant -> relay)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ParticipantName string `json:"participant_name"`
	SessionID       string `json:"session_id,omitempty"`
}

// WELCOME (relay -> participant)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ParticipantID   string `json:"participant_id"`
}

// Requests (participant -> relay). Only network-scoped ids appear here.

type CastRequest struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	CasterID        NetworkID `json:"caster_id"`
	CastingSource   uint8     `json:"casting_source"`
	IsDualCasting   bool      `json:"is_dual_casting"`
	SpellID         GameID    `json:"spell_id"`
}

type InterruptRequest struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	CasterID        NetworkID `json:"caster_id"`
}

type AddTargetRequest struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	TargetID        NetworkID `json:"target_id"`
	SpellID         GameID    `json:"spell_id"`
}

// ItemDelta is one container change entry: the signed difference between
// runtime and base contents for one item definition.
type ItemDelta struct {
	Item  GameID      `json:"item"`
	Count int32       `json:"count"`
	Extra []ItemExtra `json:"extra,omitempty"`
}

// ItemExtra describes one sub-stack that carries instance data.
type ItemExtra struct {
	Count    int32   `json:"count"`
	Worn     bool    `json:"worn,omitempty"`
	WornLeft bool    `json:"worn_left,omitempty"`
	Health   float32 `json:"health,omitempty"`
	Charge   float32 `json:"charge,omitempty"`
}

type InventoryChangesRequest struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	TargetID        NetworkID   `json:"target_id"`
	Entries         []ItemDelta `json:"entries"`
}

type ActivateRequest struct {
	Type              string    `json:"type"`
	ProtocolVersion   string    `json:"protocol_version"`
	ObjectID          GameID    `json:"object_id"`
	ActivatorID       NetworkID `json:"activator_id"`
	Count             int32     `json:"count"`
	DefaultProcessing bool      `json:"default_processing"`
}

// Notifications (relay -> participant). Ids are the sender's network ids,
// which receivers know as remote ids.

type NotifyCast struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	CasterID        NetworkID `json:"caster_id"`
	CastingSource   uint8     `json:"casting_source"`
	IsDualCasting   bool      `json:"is_dual_casting"`
	SpellID         GameID    `json:"spell_id"`
}

type NotifyInterrupt struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	CasterID        NetworkID `json:"caster_id"`
}

type NotifyAddTarget struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	TargetID        NetworkID `json:"target_id"`
	SpellID         GameID    `json:"spell_id"`
}

type NotifyInventoryChanges struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	TargetID        NetworkID   `json:"target_id"`
	Entries         []ItemDelta `json:"entries"`
}

type NotifyActivate struct {
	Type              string    `json:"type"`
	ProtocolVersion   string    `json:"protocol_version"`
	ObjectID          GameID    `json:"object_id"`
	ActivatorID       NetworkID `json:"activator_id"`
	Count             int32     `json:"count"`
	DefaultProcessing bool      `json:"default_processing"`
}

func (HelloMsg) MessageType() string                { return TypeHello }
func (WelcomeMsg) MessageType() string              { return TypeWelcome }
func (CastRequest) MessageType() string             { return TypeCastRequest }
func (InterruptRequest) MessageType() string        { return TypeInterruptRequest }
func (AddTargetRequest) MessageType() string        { return TypeAddTargetRequest }
func (InventoryChangesRequest) MessageType() string { return TypeInventoryChangesRequest }
func (ActivateRequest) MessageType() string         { return TypeActivateRequest }
func (NotifyCast) MessageType() string              { return TypeNotifyCast }
func (NotifyInterrupt) MessageType() string         { return TypeNotifyInterrupt }
func (NotifyAddTarget) MessageType() string         { return TypeNotifyAddTarget }
func (NotifyInventoryChanges) MessageType() string  { return TypeNotifyInventoryChanges }
func (NotifyActivate) MessageType() string          { return TypeNotifyActivate }
