package protocol

import (
	"testing"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	samples := map[string]string{
		TypeHello:   `{"type":"HELLO","protocol_version":"1.0","participant_name":"p1"}`,
		TypeWelcome: `{"type":"WELCOME","protocol_version":"1.0","session_id":"s1","participant_id":"p1"}`,
		TypeCastRequest: `{
		  "type":"CAST_REQUEST","protocol_version":"1.0",
		  "caster_id":17,"casting_source":0,"is_dual_casting":true,
		  "spell_id":{"mod_id":3,"base_id":77495}
		}`,
		TypeInterruptRequest: `{"type":"INTERRUPT_REQUEST","protocol_version":"1.0","caster_id":17}`,
		TypeAddTargetRequest: `{"type":"ADD_TARGET_REQUEST","protocol_version":"1.0","target_id":4,"spell_id":{"mod_id":3,"base_id":1}}`,
		TypeInventoryChangesRequest: `{
		  "type":"INVENTORY_CHANGES_REQUEST","protocol_version":"1.0","target_id":4,
		  "entries":[{"item":{"mod_id":1,"base_id":2},"count":-2,"extra":[{"count":1,"worn":true}]}]
		}`,
		TypeActivateRequest: `{
		  "type":"ACTIVATE_REQUEST","protocol_version":"1.0",
		  "object_id":{"mod_id":1,"base_id":9},"activator_id":4,"count":1,"default_processing":true
		}`,
	}
	for typ, raw := range samples {
		if err := Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", typ, err)
		}
	}

	if err := Validate(TypeCastRequest, []byte(`{"type":"NOTIFY_INTERRUPT","protocol_version":"1.0","caster_id":1}`)); err == nil {
		t.Fatalf("expected schema mismatch to fail")
	}
}

func TestSchemas_EveryTypeCompiles(t *testing.T) {
	set, err := compiledSchemas()
	if err != nil {
		t.Fatalf("compile schemas: %v", err)
	}
	for typ := range schemaByType {
		if set[typ] == nil {
			t.Fatalf("no schema for %s", typ)
		}
	}
}
