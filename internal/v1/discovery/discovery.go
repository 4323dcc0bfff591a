// Package discovery advertises nodes on the cluster-wide node set so external
// proxies can route client connections. Proxies subscribe to the discovery
// channel for deltas and snapshot the set on startup.
package discovery

import (
	"context"
	"fmt"

	"github.com/parcade/arena/internal/v1/presence"
)

// Key layout is shared with colyseus-proxy deployments; do not change it.
const (
	nodesSetKey      = "colyseus:nodes"
	discoveryChannel = "colyseus:nodes:discovery"
)

// Node identifies one process in the cluster.
type Node struct {
	ProcessID string
	Address   string
	Port      int
}

// FormatAddress externalizes the node as "<processId>/<address>:<port>".
// The any-interface address "::" is bracketed so the port separator stays
// unambiguous.
func (n Node) FormatAddress() string {
	host := n.Address
	if host == "::" {
		host = "[::]"
	}
	return fmt.Sprintf("%s/%s:%d", n.ProcessID, host, n.Port)
}

// Register adds the node to the cluster set and announces it.
func Register(ctx context.Context, p presence.Presence, node Node) error {
	addr := node.FormatAddress()
	if err := p.SAdd(ctx, nodesSetKey, addr); err != nil {
		return fmt.Errorf("discovery: failed to register node: %w", err)
	}
	if err := p.Publish(ctx, discoveryChannel, []byte("add,"+addr)); err != nil {
		return fmt.Errorf("discovery: failed to announce node: %w", err)
	}
	return nil
}

// Unregister removes the node from the cluster set and announces the removal.
func Unregister(ctx context.Context, p presence.Presence, node Node) error {
	addr := node.FormatAddress()
	if err := p.SRem(ctx, nodesSetKey, addr); err != nil {
		return fmt.Errorf("discovery: failed to unregister node: %w", err)
	}
	if err := p.Publish(ctx, discoveryChannel, []byte("remove,"+addr)); err != nil {
		return fmt.Errorf("discovery: failed to announce node removal: %w", err)
	}
	return nil
}

// Nodes snapshots the currently registered node addresses.
func Nodes(ctx context.Context, p presence.Presence) ([]string, error) {
	return p.SMembers(ctx, nodesSetKey)
}
