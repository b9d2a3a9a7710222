package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
)

// StreamProtocolPush is the relay stream the signaling envelopes travel on.
const StreamProtocolPush protocol.ID = "/nestri-relay/stream-push/1.0.0"

// Host owns the libp2p swarm: identity, transports and the ping service.
type Host struct {
	host host.Host
	ping *ping.PingService
}

// Connection is an established relay link: the remote peer plus the host to
// open streams on.
type Connection struct {
	PeerID peer.ID
	host   host.Host
}

// NewHost builds a libp2p host with a fresh identity, TCP and QUIC
// transports, noise security and yamux multiplexing.
func NewHost() (*Host, error) {
	h, err := libp2p.New(
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer("/yamux/1.0.0", yamux.DefaultTransport),
	)
	if err != nil {
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	hst := &Host{
		host: h,
		ping: ping.NewPingService(h),
	}
	go hst.watchEvents()

	log.Info("host created", "peerId", h.ID())
	return hst, nil
}

// Connect dials the relay multiaddr and returns a connection handle. The
// address must end with a /p2p/<peer_id> component.
func (h *Host) Connect(ctx context.Context, rawAddr string) (*Connection, error) {
	addr, err := multiaddr.NewMultiaddr(rawAddr)
	if err != nil {
		return nil, fmt.Errorf("p2p: parse relay address %q: %w", rawAddr, err)
	}

	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("p2p: invalid multiaddr, missing /p2p/<peer_id>: %w", err)
	}

	if err := h.host.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("p2p: dial relay: %w", err)
	}

	log.Info("connected to relay", "peerId", info.ID)
	return &Connection{PeerID: info.ID, host: h.host}, nil
}

// Close tears down the swarm and all open streams.
func (h *Host) Close() error {
	return h.host.Close()
}

// OpenStream opens a fresh stream to the connection's peer under the given
// protocol.
func (c *Connection) OpenStream(ctx context.Context, proto protocol.ID) (network.Stream, error) {
	stream, err := c.host.NewStream(ctx, c.PeerID, proto)
	if err != nil {
		return nil, fmt.Errorf("p2p: open stream %s: %w", proto, err)
	}
	return stream, nil
}

// watchEvents logs connectedness and reachability changes from the swarm's
// event bus.
func (h *Host) watchEvents() {
	sub, err := h.host.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerConnectednessChanged),
		new(event.EvtLocalReachabilityChanged),
	})
	if err != nil {
		log.Warn("subscribing to host events failed", "error", err)
		return
	}
	defer sub.Close()

	for evt := range sub.Out() {
		switch e := evt.(type) {
		case event.EvtPeerConnectednessChanged:
			switch e.Connectedness {
			case network.Connected:
				log.Info("connection established", "peerId", e.Peer)
			case network.NotConnected:
				log.Info("connection closed", "peerId", e.Peer)
			}
		case event.EvtLocalReachabilityChanged:
			log.Info("local reachability changed", "reachability", e.Reachability)
		}
	}
}
