package loopback_test

import (
	"errors"
	"testing"

	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/amp-labs/amp-session/future"
	"github.com/amp-labs/amp-session/loopback"
	"github.com/amp-labs/amp-session/proxy"
	"github.com/amp-labs/amp-session/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func TestAddNodeAnnouncesBoundProxy(t *testing.T) {
	t.Parallel()

	h := tests.New(t)

	announced := make(chan *proxy.Proxy, 1)

	h.Do(func() error {
		h.Server.OnNodeAdded(func(p *proxy.Proxy) { announced <- p })

		return nil
	})

	id, err := h.Server.AddNode(map[string]string{"media.class": "Audio/Sink"})
	require.NoError(t, err)
	assert.NotZero(t, id)

	p := <-announced

	var ready *future.Future[proxy.Features]

	h.Do(func() error {
		ready = p.RequestFeatures(proxy.FeatureBound | proxy.FeatureInfo)

		return nil
	})

	_, err = tests.Await(h, ready)
	require.NoError(t, err)

	h.Do(func() error {
		gid, ok := p.GlobalID()
		assert.True(t, ok)
		assert.Equal(t, id, gid)

		mc, _ := p.Property("media.class")
		assert.Equal(t, "Audio/Sink", mc)

		return nil
	})

	assert.Equal(t, []uint32{id}, h.Server.Objects(loopback.NodeInterface))
}

func TestExportAndRoundtrip(t *testing.T) {
	t.Parallel()

	h := tests.New(t)

	var (
		p     *proxy.Proxy
		bound *future.Future[proxy.Features]
		syncs []*future.Future[struct{}]
	)

	h.Do(func() error {
		var err error

		p, err = h.Server.Export(h.Ctx, "Endpoint", map[string]string{"endpoint.name": "a"})
		if err != nil {
			return err
		}

		assert.False(t, p.Features().Has(proxy.FeatureBound), "export replies are never synchronous")

		bound = p.RequestFeatures(proxy.FeatureBound)
		syncs = append(syncs, p.Sync(), p.Sync())

		return nil
	})

	_, err := tests.Await(h, bound)
	require.NoError(t, err)

	for _, s := range syncs {
		_, err := tests.Await(h, s)
		require.NoError(t, err)
	}

	var id uint32

	h.Do(func() error {
		id, _ = p.GlobalID()

		return nil
	})

	iface, props, ok := h.Server.Object(id)
	require.True(t, ok)
	assert.Equal(t, "Endpoint", iface)
	assert.Equal(t, "a", props["endpoint.name"])
}

func TestFaultInjection(t *testing.T) {
	t.Parallel()

	h := tests.New(t)

	h.Server.FailExport(errBusy)
	h.Server.FailRoundtrips(errBusy)

	var (
		rejected *future.Future[proxy.Features]
		node     *proxy.Proxy
	)

	h.Do(func() error {
		p, err := h.Server.Export(h.Ctx, "Endpoint", nil)
		if err != nil {
			return err
		}

		rejected = p.RequestFeatures(proxy.FeatureBound)

		return nil
	})

	_, err := tests.Await(h, rejected)
	require.ErrorIs(t, err, sessionerrors.ErrDestroyed)

	announced := make(chan *proxy.Proxy, 1)

	h.Do(func() error {
		h.Server.OnNodeAdded(func(p *proxy.Proxy) { announced <- p })

		return nil
	})

	id, err := h.Server.AddNode(nil)
	require.NoError(t, err)

	node = <-announced

	var failed *future.Future[struct{}]

	h.Do(func() error {
		failed = node.Sync()

		return nil
	})

	_, err = tests.Await(h, failed)
	require.ErrorIs(t, err, errBusy)

	h.Server.FailRoundtrips(nil)
	h.Server.Stall(true)

	var stalled *future.Future[struct{}]

	h.Do(func() error {
		stalled = node.Sync()

		return nil
	})

	require.NoError(t, h.Server.DestroyRemote(id))
	require.ErrorIs(t, h.Server.DestroyRemote(id), loopback.ErrUnknownObject)

	h.Do(func() error {
		assert.False(t, stalled.Done())
		assert.False(t, node.Destroyed())

		return nil
	})

	h.Server.Stall(false)

	_, err = tests.Await(h, stalled)
	require.NoError(t, err, "held replies are delivered in order, before the destruction")

	h.Eventually(node.Destroyed, "node proxy destroyed")
}

func TestSetPropertiesEchoes(t *testing.T) {
	t.Parallel()

	h := tests.New(t)

	announced := make(chan *proxy.Proxy, 1)

	h.Do(func() error {
		h.Server.OnNodeAdded(func(p *proxy.Proxy) { announced <- p })

		return nil
	})

	_, err := h.Server.AddNode(map[string]string{"volume": "1"})
	require.NoError(t, err)

	node := <-announced

	h.Eventually(func() bool { return node.Features().Has(proxy.FeatureBound) }, "node bound")

	h.Do(func() error {
		return node.SetProperties(map[string]string{"volume": "0.5"})
	})

	h.Eventually(func() bool {
		v, _ := node.Property("volume")

		return v == "0.5"
	}, "volume echoed")
}

func TestClosedServerRejectsRequests(t *testing.T) {
	t.Parallel()

	h := tests.New(t)
	h.Server.Close()

	_, err := h.Server.AddNode(nil)
	require.ErrorIs(t, err, loopback.ErrClosed)
}

func TestAddClientReachesClientListenersOnly(t *testing.T) {
	t.Parallel()

	h := tests.New(t)

	clients := make(chan *proxy.Proxy, 1)
	nodes := 0

	h.Do(func() error {
		h.Server.OnClientAdded(func(p *proxy.Proxy) { clients <- p })
		h.Server.OnNodeAdded(func(*proxy.Proxy) { nodes++ })

		return nil
	})

	id, err := h.Server.AddClient(map[string]string{"pipewire.access": "flatpak"})
	require.NoError(t, err)

	client := <-clients

	h.Eventually(func() bool { return client.Features().Has(proxy.FeatureBound | proxy.FeatureInfo) }, "client described")

	h.Do(func() error {
		assert.Zero(t, nodes, "node listeners do not hear about clients")
		assert.Equal(t, loopback.ClientInterface, client.Interface())

		return nil
	})

	iface, props, ok := h.Server.Object(id)
	require.True(t, ok)
	assert.Equal(t, loopback.ClientInterface, iface)
	assert.Equal(t, "flatpak", props["pipewire.access"])
}
