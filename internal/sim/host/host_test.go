package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type plainRef struct{ h Handle }

func (r plainRef) Handle() Handle   { return r.h }
func (r plainRef) FormID() FormID   { return 0 }
func (r plainRef) BaseForm() FormID { return 0 }

type plainForm FormID

func (f plainForm) FormID() FormID { return FormID(f) }

func TestCapabilityQueries_NotThatKind(t *testing.T) {
	_, ok := AsActor(plainRef{h: 1})
	assert.False(t, ok)
	_, ok = AsContainer(plainRef{h: 1})
	assert.False(t, ok)
	_, ok = AsSpell(plainForm(7))
	assert.False(t, ok)

	_, ok = AsActor(nil)
	assert.False(t, ok)
	_, ok = AsSpell(nil)
	assert.False(t, ok)
}

func TestCastingSource(t *testing.T) {
	assert.True(t, Instant.Valid())
	assert.False(t, CastingSourceCount.Valid())
	assert.Equal(t, "right_hand", RightHand.String())
	assert.Equal(t, "casting_source(9)", CastingSource(9).String())
}
