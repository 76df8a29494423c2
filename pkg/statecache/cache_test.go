package statecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-panelsync/pkg/model"
)

var t0 = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func TestCacheFreshness(t *testing.T) {
	c := New(0)
	_, ok := c.Get(t0)
	assert.False(t, ok, "empty cache")

	c.Put([]byte(`{ "mode" : "Arm Away" }`), t0)

	snap, ok := c.Get(t0.Add(DefaultMaxAge))
	require.True(t, ok)
	assert.JSONEq(t, `{"mode":"Arm Away"}`, string(snap.Payload))
	assert.Equal(t, model.ModeArmAway, snap.Mode)
	assert.Equal(t, DefaultMaxAge, snap.Age(t0.Add(DefaultMaxAge)))

	_, ok = c.Get(t0.Add(DefaultMaxAge + time.Millisecond))
	assert.False(t, ok, "stale read must not return old state")
	assert.False(t, c.Fresh(t0.Add(2*DefaultMaxAge)))

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, t0, last.ObservedAt)
}

func TestPutOverwrites(t *testing.T) {
	c := New(10 * time.Second)
	c.Put([]byte(`"Arm Stay"`), t0)
	c.Put([]byte(`"Disarm"`), t0.Add(8*time.Second))

	snap, ok := c.Get(t0.Add(15 * time.Second))
	require.True(t, ok)
	assert.Equal(t, model.ModeDisarm, snap.Mode)
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want model.Mode
	}{
		{`"Arm Away"`, model.ModeArmAway},
		{`"arm stay"`, model.ModeArmStay},
		{`{"mode":"Disarm","zones":[]}`, model.ModeDisarm},
		{`{"systemState":"Arm Stay"}`, model.ModeArmStay},
		{`{"state":{"mode":"Arm Away"}}`, model.ModeArmAway},
		{`"Panic"`, ""},
		{`{"zones":3}`, ""},
		{`42`, ""},
		{``, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseMode([]byte(tc.in)), tc.in)
	}
}
