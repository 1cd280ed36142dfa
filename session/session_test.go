package session

import (
	"testing"

	"github.com/amp-labs/amp-session/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaClasses(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"Audio/Sink", "Audio/Source", "Video/Source"}, MediaClasses())

	for _, typ := range DefaultEndpointTypes {
		got, ok := ParseMediaClass(typ.MediaClass())
		require.True(t, ok)
		assert.Equal(t, typ, got)
	}

	_, ok := ParseMediaClass("Audio/DSP")
	assert.False(t, ok)
	assert.Equal(t, "audio-sink", AudioSink.String())
}

func TestDefaultEndpointStore(t *testing.T) {
	t.Parallel()

	s := New(proxy.New(Interface, nil))

	type change struct {
		typ DefaultEndpointType
		id  uint32
	}

	var changes []change

	s.OnDefaultEndpointChanged(func(typ DefaultEndpointType, id uint32) {
		changes = append(changes, change{typ, id})
	})

	assert.Zero(t, s.DefaultEndpoint(AudioSink))

	s.SetDefaultEndpoint(AudioSink, 4)
	s.SetDefaultEndpoint(AudioSink, 4)
	s.SetDefaultEndpoint(AudioSource, 2)
	s.SetDefaultEndpoint(AudioSink, 0)

	assert.Zero(t, s.DefaultEndpoint(AudioSink))
	assert.Equal(t, uint32(2), s.DefaultEndpoint(AudioSource))
	assert.Equal(t, []change{{AudioSink, 4}, {AudioSource, 2}, {AudioSink, 0}}, changes)
}

func TestReadyWaitsForBound(t *testing.T) {
	t.Parallel()

	p := proxy.New(Interface, nil)
	s := New(p)

	assert.True(t, p.Features().Has(FeatureDefaultEndpoint))

	fut := s.Ready()
	assert.False(t, fut.Done())

	p.HandleEvent(proxy.Event{Kind: proxy.EventBound, GlobalID: 1})

	_, err, ok := fut.Result()
	require.True(t, ok)
	require.NoError(t, err)
}
