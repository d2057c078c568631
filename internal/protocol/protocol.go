package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"

	TypeCastRequest             = "CAST_REQUEST"
	TypeInterruptRequest        = "INTERRUPT_REQUEST"
	TypeAddTargetRequest        = "ADD_TARGET_REQUEST"
	TypeInventoryChangesRequest = "INVENTORY_CHANGES_REQUEST"
	TypeActivateRequest         = "ACTIVATE_REQUEST"

	TypeNotifyCast             = "NOTIFY_CAST"
	TypeNotifyInterrupt        = "NOTIFY_INTERRUPT"
	TypeNotifyAddTarget        = "NOTIFY_ADD_TARGET"
	TypeNotifyInventoryChanges = "NOTIFY_INVENTORY_CHANGES"
	TypeNotifyActivate         = "NOTIFY_ACTIVATE"
)

// Message is implemented by every wire message.
type Message interface {
	MessageType() string
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsRequest reports whether typ is sent by a participant to the relay.
func IsRequest(typ string) bool {
	switch typ {
	case TypeCastRequest, TypeInterruptRequest, TypeAddTargetRequest, TypeInventoryChangesRequest, TypeActivateRequest:
		return true
	}
	return false
}

// IsNotification reports whether typ is sent by the relay to participants.
func IsNotification(typ string) bool {
	switch typ {
	case TypeNotifyCast, TypeNotifyInterrupt, TypeNotifyAddTarget, TypeNotifyInventoryChanges, TypeNotifyActivate:
		return true
	}
	return false
}
