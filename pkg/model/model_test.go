package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifierDefaults(t *testing.T) {
	c := NewClassifier("")

	assert.Equal(t, ClassControl, c.Classify(CommandArmAway))
	assert.Equal(t, ClassControl, c.Classify(CommandArmStay))
	assert.Equal(t, ClassControl, c.Classify(CommandDisarm))
	assert.Equal(t, ClassStateQuery, c.Classify(CommandGetSystemState))
	assert.Equal(t, ClassQuery, c.Classify("GetEventLog"))
	assert.Equal(t, CommandGetSystemState, c.StateQuery())
}

func TestClassifierCustomControl(t *testing.T) {
	c := NewClassifier("Status", " Lights On ", "Lights Off")

	assert.Equal(t, ClassControl, c.Classify("Lights On"))
	assert.Equal(t, ClassQuery, c.Classify(CommandArmAway))
	assert.Equal(t, ClassStateQuery, c.Classify("Status"))
}

func TestModeValid(t *testing.T) {
	assert.True(t, ModeArmAway.Valid())
	assert.True(t, ModeArmAway.Armed())
	assert.False(t, ModeDisarm.Armed())
	assert.False(t, Mode("Panic").Valid())
	assert.Equal(t, "state_query", ClassStateQuery.String())
}
