package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrVersion     = errors.New("unsupported protocol version")
)

// Encode stamps type and protocol version onto m and marshals it.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	return json.Marshal(Stamp(m))
}

// Stamp returns a copy of m with Type and ProtocolVersion filled in.
func Stamp(m Message) Message {
	switch v := m.(type) {
	case HelloMsg:
		v.Type, v.ProtocolVersion = TypeHello, Version
		return v
	case WelcomeMsg:
		v.Type, v.ProtocolVersion = TypeWelcome, Version
		return v
	case CastRequest:
		v.Type, v.ProtocolVersion = TypeCastRequest, Version
		return v
	case InterruptRequest:
		v.Type, v.ProtocolVersion = TypeInterruptRequest, Version
		return v
	case AddTargetRequest:
		v.Type, v.ProtocolVersion = TypeAddTargetRequest, Version
		return v
	case InventoryChangesRequest:
		v.Type, v.ProtocolVersion = TypeInventoryChangesRequest, Version
		return v
	case ActivateRequest:
		v.Type, v.ProtocolVersion = TypeActivateRequest, Version
		return v
	case NotifyCast:
		v.Type, v.ProtocolVersion = TypeNotifyCast, Version
		return v
	case NotifyInterrupt:
		v.Type, v.ProtocolVersion = TypeNotifyInterrupt, Version
		return v
	case NotifyAddTarget:
		v.Type, v.ProtocolVersion = TypeNotifyAddTarget, Version
		return v
	case NotifyInventoryChanges:
		v.Type, v.ProtocolVersion = TypeNotifyInventoryChanges, Version
		return v
	case NotifyActivate:
		v.Type, v.ProtocolVersion = TypeNotifyActivate, Version
		return v
	}
	return m
}

// Decode validates b against the schema of its type and unmarshals it into
// the matching message struct.
func Decode(b []byte) (Message, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, fmt.Errorf("decode base: %w", err)
	}
	if base.ProtocolVersion != Version {
		return nil, fmt.Errorf("%w: %q", ErrVersion, base.ProtocolVersion)
	}
	if err := Validate(base.Type, b); err != nil {
		return nil, err
	}
	switch base.Type {
	case TypeHello:
		return decodeAs[HelloMsg](b)
	case TypeWelcome:
		return decodeAs[WelcomeMsg](b)
	case TypeCastRequest:
		return decodeAs[CastRequest](b)
	case TypeInterruptRequest:
		return decodeAs[InterruptRequest](b)
	case TypeAddTargetRequest:
		return decodeAs[AddTargetRequest](b)
	case TypeInventoryChangesRequest:
		return decodeAs[InventoryChangesRequest](b)
	case TypeActivateRequest:
		return decodeAs[ActivateRequest](b)
	case TypeNotifyCast:
		return decodeAs[NotifyCast](b)
	case TypeNotifyInterrupt:
		return decodeAs[NotifyInterrupt](b)
	case TypeNotifyAddTarget:
		return decodeAs[NotifyAddTarget](b)
	case TypeNotifyInventoryChanges:
		return decodeAs[NotifyInventoryChanges](b)
	case TypeNotifyActivate:
		return decodeAs[NotifyActivate](b)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
}

func decodeAs[T Message](b []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// NotifyFor maps a participant request to the notification the relay fans
// out to the other participants. Ids are copied unchanged.
func NotifyFor(m Message) (Message, bool) {
	switch v := m.(type) {
	case CastRequest:
		return Stamp(NotifyCast{
			CasterID:      v.CasterID,
			CastingSource: v.CastingSource,
			IsDualCasting: v.IsDualCasting,
			SpellID:       v.SpellID,
		}), true
	case InterruptRequest:
		return Stamp(NotifyInterrupt{CasterID: v.CasterID}), true
	case AddTargetRequest:
		return Stamp(NotifyAddTarget{TargetID: v.TargetID, SpellID: v.SpellID}), true
	case InventoryChangesRequest:
		entries := append([]ItemDelta(nil), v.Entries...)
		return Stamp(NotifyInventoryChanges{TargetID: v.TargetID, Entries: entries}), true
	case ActivateRequest:
		return Stamp(NotifyActivate{
			ObjectID:          v.ObjectID,
			ActivatorID:       v.ActivatorID,
			Count:             v.Count,
			DefaultProcessing: v.DefaultProcessing,
		}), true
	}
	return nil, false
}
