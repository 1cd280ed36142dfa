package device_test

import (
	"errors"
	"testing"

	"github.com/amp-labs/amp-session/device"
	"github.com/amp-labs/amp-session/endpoint"
	"github.com/amp-labs/amp-session/proxy"
	"github.com/amp-labs/amp-session/registry"
	"github.com/amp-labs/amp-session/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("refused")

func newMonitor(t *testing.T, rules []device.Rule) (*tests.Harness, *registry.Registry[*endpoint.Endpoint], *device.Monitor) {
	t.Helper()

	h := tests.New(t)
	reg := registry.New[*endpoint.Endpoint]()

	var m *device.Monitor

	h.Do(func() error {
		m = device.NewMonitor(h.Ctx, h.Server, reg, rules)
		h.Server.OnNodeAdded(m.NodeAdded)

		return nil
	})

	return h, reg, m
}

func TestMonitorCreatesEndpointsForAudioNodes(t *testing.T) {
	t.Parallel()

	h, reg, _ := newMonitor(t, []device.Rule{{Match: "alsa_output.usb*", Priority: 10}})

	for _, props := range []map[string]string{
		{device.PropNodeName: "alsa_output.usb", device.PropMediaClass: "Audio/Sink"},
		{device.PropNodeName: "alsa_output.pci", device.PropMediaClass: "Audio/Sink"},
		{device.PropNodeName: "dsp", device.PropMediaClass: "Audio/DSP/Playback"},
		{device.PropNodeName: "cam", device.PropMediaClass: "Video/Source"},
	} {
		_, err := h.Server.AddNode(props)
		require.NoError(t, err)
	}

	h.Eventually(func() bool { return reg.Len("Audio/Sink") == 2 }, "both sinks published")

	h.Do(func() error {
		assert.Equal(t, []string{"Audio/Sink"}, reg.Tags())

		eps := reg.Objects("Audio/Sink")
		priorities := map[string]int{}

		for _, ep := range eps {
			priorities[ep.Name()] = ep.Priority()
			assert.NotZero(t, ep.ID())
		}

		assert.Len(t, priorities, 2)

		for name, p := range priorities {
			if p != 0 {
				assert.Contains(t, name, "alsa_output.usb")
				assert.Equal(t, 10, p)
			}
		}

		return nil
	})

	assert.Len(t, h.Server.Objects(endpoint.Interface), 2)
}

func TestMonitorRemovesEndpointWithNode(t *testing.T) {
	t.Parallel()

	h, reg, m := newMonitor(t, nil)

	id, err := h.Server.AddNode(map[string]string{device.PropNodeName: "n", device.PropMediaClass: "Audio/Source"})
	require.NoError(t, err)

	h.Eventually(func() bool { return reg.Len("Audio/Source") == 1 }, "endpoint published")

	var ep *endpoint.Endpoint

	h.Do(func() error {
		ep = reg.Objects("Audio/Source")[0]

		return nil
	})

	require.NoError(t, h.Server.DestroyRemote(id))

	h.Eventually(func() bool { return reg.Len("Audio/Source") == 0 }, "endpoint removed")

	h.Do(func() error {
		assert.True(t, ep.Destroyed())
		assert.Nil(t, ep.Remote(), "exported endpoint released")

		_, ok := m.Endpoint(ep.Node())
		assert.False(t, ok)

		return nil
	})
}

func TestMonitorReportsFailures(t *testing.T) {
	t.Parallel()

	h, reg, m := newMonitor(t, nil)

	failures := make(chan error, 1)

	h.Do(func() error {
		m.OnFailed(func(_ *proxy.Proxy, err error) { failures <- err })

		return nil
	})

	h.Server.FailExport(errRefused)

	_, err := h.Server.AddNode(map[string]string{device.PropNodeName: "n", device.PropMediaClass: "Audio/Sink"})
	require.NoError(t, err)

	err = <-failures
	require.Error(t, err)

	h.Do(func() error {
		assert.Zero(t, reg.Len("Audio/Sink"))

		return nil
	})
}
