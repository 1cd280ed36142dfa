// Package client adjusts the permissions of clients connecting to the server.
//
// Sandboxed clients connect with restricted access. Permissions grants them
// full access to every object as soon as the server has described them.
package client

import (
	"context"
	"slices"

	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/proxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client property keys.
const (
	PropAccess      = "pipewire.access"
	PropPermissions = "pipewire.permissions"
)

// AllPermissions is the permission value granting read, write and execute
// on every object.
const AllPermissions = "*:rwx"

// grantedAccess lists the access modes that get full permissions.
var grantedAccess = []string{"flatpak", "restricted"} //nolint:gochecknoglobals

var permissionsGranted = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
	Name: "client_permissions_granted_total",
	Help: "Total number of clients granted full permissions by access mode",
}, []string{"access"})

// Permissions grants full permissions to restricted clients. It runs on the
// event loop.
type Permissions struct {
	ctx     context.Context //nolint:containedctx
	granted []func(client *proxy.Proxy)
}

// NewPermissions creates a permission manager.
func NewPermissions(ctx context.Context) *Permissions {
	return &Permissions{ctx: logger.WithSubsystem(ctx, "client")}
}

// OnGranted registers cb to hear about clients whose permissions were updated.
func (m *Permissions) OnGranted(cb func(client *proxy.Proxy)) {
	m.granted = append(m.granted, cb)
}

// NeedsGrant reports whether a client connecting with access gets full permissions.
func NeedsGrant(access string) bool {
	return slices.Contains(grantedAccess, access)
}

// ClientAdded handles a newly connected client.
func (m *Permissions) ClientAdded(client *proxy.Proxy) {
	client.RequestFeatures(proxy.FeatureBound | proxy.FeatureInfo).OnResult(func(_ proxy.Features, err error) {
		if err != nil {
			logger.Get(m.ctx).Debug("client left before it was described", "error", err)

			return
		}

		m.grant(client)
	})
}

func (m *Permissions) grant(client *proxy.Proxy) {
	id, _ := client.GlobalID()
	access, _ := client.Property(PropAccess)

	log := logger.Get(m.ctx).With("client", id, "access", access)
	log.Debug("client added")

	if !NeedsGrant(access) {
		return
	}

	if err := client.SetProperties(map[string]string{PropPermissions: AllPermissions}); err != nil {
		log.Warn("could not update client permissions", "error", err)

		return
	}

	permissionsGranted.WithLabelValues(access).Inc()
	log.Debug("granted full access")

	for _, cb := range m.granted {
		cb(client)
	}
}
