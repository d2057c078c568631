package protocol

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

var spellFireball = GameID{ModID: 3, BaseID: 0x12EB7}

func TestRequests_WireGolden(t *testing.T) {
	g := goldie.New(t)

	cases := []struct {
		name string
		msg  Message
	}{
		{"cast_request", CastRequest{
			CasterID:      0x1A2B,
			CastingSource: CastingSourceLeftHand,
			IsDualCasting: true,
			SpellID:       spellFireball,
		}},
		{"interrupt_request", InterruptRequest{CasterID: 0x1A2B}},
		{"add_target_request", AddTargetRequest{TargetID: 42, SpellID: spellFireball}},
		{"inventory_changes_request", InventoryChangesRequest{
			TargetID: 42,
			Entries: []ItemDelta{
				{Item: GameID{ModID: 1, BaseID: 15}, Count: 2, Extra: []ItemExtra{{Count: 1, Worn: true, Health: 1.5}}},
				{Item: GameID{ModID: 0, BaseID: 10}, Count: -3},
			},
		}},
		{"activate_request", ActivateRequest{
			ObjectID:          GameID{ModID: 2, BaseID: 90},
			ActivatorID:       7,
			Count:             1,
			DefaultProcessing: true,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g.AssertJson(t, tc.name, Stamp(tc.msg))
		})
	}
}
