package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIDString(t *testing.T) {
	id := MessageID{Time: 1700000000, Tag: 3}
	assert.Equal(t, "1700000000:3", id.String())
}

func TestMessageIDIsZero(t *testing.T) {
	assert.True(t, MessageID{}.IsZero())
	assert.True(t, ZeroMessageID.IsZero())
	assert.False(t, MessageID{Time: 1}.IsZero())
	assert.False(t, MessageID{Tag: 1}.IsZero())
}

func TestMessageIDLess(t *testing.T) {
	cases := []struct {
		name string
		a, b MessageID
		want bool
	}{
		{"earlier time", MessageID{Time: 1, Tag: 9}, MessageID{Time: 2, Tag: 0}, true},
		{"same time, lower tag", MessageID{Time: 5, Tag: 0}, MessageID{Time: 5, Tag: 1}, true},
		{"same time, higher tag", MessageID{Time: 5, Tag: 2}, MessageID{Time: 5, Tag: 1}, false},
		{"equal", MessageID{Time: 5, Tag: 1}, MessageID{Time: 5, Tag: 1}, false},
		{"later time", MessageID{Time: 9, Tag: 0}, MessageID{Time: 2, Tag: 5}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.a.Less(c.b))
		})
	}
}

func TestParseMessageIDRoundTrip(t *testing.T) {
	want := MessageID{Time: 1700000042, Tag: 7}
	got, err := ParseMessageID(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseMessageIDMalformed(t *testing.T) {
	for _, s := range []string{"", "notanumber", "1700000000", "1700000000:notanumber", ":3"} {
		_, err := ParseMessageID(s)
		assert.Errorf(t, err, "expected error for %q", s)
	}
}
