package gateway

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/service/storage"
	"github.com/SpheneDev/SpheneServer/tools/errs"
)

// clients identify as "Sphene/x.y.z" somewhere in the user agent
var clientVersionRegex = regexp.MustCompile(`Sphene/(\d+)\.(\d+)\.(\d+)`)

type version struct{ major, minor, patch int }

func (v version) atLeast(o version) bool {
	if v.major != o.major {
		return v.major > o.major
	}
	if v.minor != o.minor {
		return v.minor > o.minor
	}
	return v.patch >= o.patch
}

func parseVersion(s string) (version, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	if len(parts) != 3 {
		return version{}, false
	}
	var v version
	var err error
	if v.major, err = strconv.Atoi(parts[0]); err != nil {
		return version{}, false
	}
	if v.minor, err = strconv.Atoi(parts[1]); err != nil {
		return version{}, false
	}
	if v.patch, err = strconv.Atoi(parts[2]); err != nil {
		return version{}, false
	}
	return v, true
}

// checkClientVersion gates the connection on the advertised client
// version. An unparseable user agent counts as outdated: old clients
// predate the version tag.
func checkClientVersion(userAgent, minVersion string) error {
	min, ok := parseVersion(minVersion)
	if !ok {
		// misconfigured minimum disables the gate
		return nil
	}
	m := clientVersionRegex.FindStringSubmatch(userAgent)
	if m == nil {
		return errs.ErrOutdatedClient
	}
	got, ok := parseVersion(m[1] + "." + m[2] + "." + m[3])
	if !ok || !got.atLeast(min) {
		return errs.ErrOutdatedClient.WithDetail("minimum " + minVersion)
	}
	return nil
}

// connectGuarded runs connection setup under the same admission and
// deadline wrapper as ordinary operations, so a hung collaborator
// cannot pin the handler goroutine.
func (s *Server) connectGuarded(ctx context.Context, c *Client) error {
	return s.guard.Do(ctx, c.Closed(), OpConnect, func(ctx context.Context) error {
		return s.onConnected(ctx, c)
	})
}

// disconnectGuarded wraps teardown the same way. The socket is already
// gone so there is no conn-closed channel to abort on; only the
// deadline bounds it. On abort the local conn-map entry still comes
// out and the socket still closes; the replicated presence entry ages
// out on its TTL.
func (s *Server) disconnectGuarded(c *Client) {
	err := s.guard.Do(context.Background(), nil, OpDisconnect, func(ctx context.Context) error {
		s.onDisconnected(ctx, c)
		return nil
	})
	if err != nil {
		logger.Warnf("[gateway] teardown %s: %v", c.User.UID, err)
		s.connMgr.RemoveIfCurrent(c.User.UID, c.ConnID)
		c.close()
	}
}

// onConnected brings a freshly authenticated client online. A
// reconnect (same uid already registered on this node) replaces the
// old connection and refreshes the replicated handle, but skips the
// fresh-connect work: peers already see the user online.
func (s *Server) onConnected(ctx context.Context, c *Client) error {
	prev := s.connMgr.Register(c)
	reconnect := prev != nil
	if reconnect {
		logger.Infof("[gateway] %s reconnected, replacing conn %s", c.User.UID, prev.ConnID)
		prev.close()
	}

	if err := s.subscribeNotifications(c); err != nil {
		s.connMgr.RemoveIfCurrent(c.User.UID, c.ConnID)
		return err
	}

	h := storage.Handle{GatewayID: s.gatewayID, ConnID: c.ConnID, Ident: c.Ident}
	if err := s.presence.SetOnline(ctx, c.User.UID, h, s.presenceTTL()); err != nil {
		s.connMgr.RemoveIfCurrent(c.User.UID, c.ConnID)
		c.close()
		return err
	}

	if reconnect {
		return nil
	}

	if err := s.store.TouchLastLogin(ctx, c.User.UID); err != nil {
		logger.Warnf("[gateway] touch last login %s: %v", c.User.UID, err)
	}
	if err := s.svc.SendOnlineToAllSyncedPeers(ctx, c.User, c.Ident); err != nil {
		logger.Warnf("[gateway] announce online %s: %v", c.User.UID, err)
	}
	logger.Infof("[gateway] %s connected conn=%s", c.User.UID, c.ConnID)
	return nil
}

// onDisconnected tears a connection down. The conn-map removal is
// guarded by conn id, so a handler firing after a reconnect finds a
// newer entry and backs off without touching anything.
func (s *Server) onDisconnected(ctx context.Context, c *Client) {
	defer c.close()

	if !s.connMgr.RemoveIfCurrent(c.User.UID, c.ConnID) {
		logger.Infof("[gateway] %s obsolete conn %s, skipping teardown", c.User.UID, c.ConnID)
		return
	}

	h := storage.Handle{GatewayID: s.gatewayID, ConnID: c.ConnID, Ident: c.Ident}
	cleared, err := s.presence.ClearIfCurrent(ctx, c.User.UID, h)
	if err != nil {
		logger.Warnf("[gateway] clear presence %s: %v", c.User.UID, err)
	}
	if cleared {
		if err := s.svc.SendOfflineToAllSyncedPeers(ctx, c.User); err != nil {
			logger.Warnf("[gateway] announce offline %s: %v", c.User.UID, err)
		}
	}

	s.svc.CleanupOnDisconnect(ctx, c.User.UID)
	logger.Infof("[gateway] %s disconnected conn=%s", c.User.UID, c.ConnID)
}
