// Package mesh simulates a network of storage devices holding the packets of
// an encoded bundle. Nodes can be taken offline and the payload rebuilt from
// whatever the online nodes still hold. Everything stays in memory.
package mesh

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ppopth/mycelium"
	"github.com/ppopth/mycelium/bundle"
	"github.com/ppopth/mycelium/encode"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

var log = logging.Logger("mesh")

var (
	ErrUnknownNode = errors.New("mesh: unknown node")
	ErrNoBundle    = errors.New("mesh: nothing distributed")
)

// DefaultNodes is the device set used when no names are given
var DefaultNodes = []string{"My-Laptop", "Desktop-PC", "Phone", "Home-Server", "Cloud-VM"}

// node is one simulated device
type node struct {
	name   string
	id     peer.ID
	online bool
	stored []encode.Packet
}

// NodeStatus is a snapshot of a node
type NodeStatus struct {
	Name    string
	ID      peer.ID
	Online  bool
	Packets int
}

// Mesh owns the nodes and the metadata of the last distributed bundle
type Mesh struct {
	lk     sync.Mutex
	nodes  []*node
	byName map[string]*node
	meta   *bundle.Bundle // Packets field is always nil
}

// New creates a mesh with one node per name, each identified by a libp2p
// peer ID derived from a fresh Ed25519 key. No names means DefaultNodes.
func New(names ...string) (*Mesh, error) {
	return NewWithEntropy(rand.Reader, names...)
}

// NewWithEntropy is New with the key material read from src, which makes peer
// IDs reproducible for a deterministic src.
func NewWithEntropy(src io.Reader, names ...string) (*Mesh, error) {
	if len(names) == 0 {
		names = DefaultNodes
	}
	m := &Mesh{byName: make(map[string]*node, len(names))}
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: empty node name", mycelium.ErrInvalidInput)
		}
		if _, dup := m.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate node name %q", mycelium.ErrInvalidInput, name)
		}
		_, pub, err := crypto.GenerateEd25519Key(src)
		if err != nil {
			return nil, fmt.Errorf("generate key for %s: %w", name, err)
		}
		id, err := peer.IDFromPublicKey(pub)
		if err != nil {
			return nil, fmt.Errorf("derive peer id for %s: %w", name, err)
		}
		n := &node{name: name, id: id, online: true}
		m.nodes = append(m.nodes, n)
		m.byName[name] = n
		log.Debugf("node %s has peer id %s", name, id)
	}
	return m, nil
}

// Distribute replaces whatever the mesh held: packet i goes to node i mod n.
func (m *Mesh) Distribute(b *bundle.Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	m.lk.Lock()
	defer m.lk.Unlock()

	for _, n := range m.nodes {
		n.stored = nil
	}
	for i, pkt := range b.Packets {
		n := m.nodes[i%len(m.nodes)]
		n.stored = append(n.stored, pkt.Clone())
	}
	m.meta = b.WithPackets(nil)
	log.Infof("distributed %d packets over %d nodes", len(b.Packets), len(m.nodes))
	return nil
}

// SetOnline brings a node online or takes it offline
func (m *Mesh) SetOnline(name string, online bool) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	n, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, name)
	}
	if n.online != online {
		n.online = online
		log.Infof("node %s is now %s", name, onlineString(online))
	}
	return nil
}

func onlineString(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// Gather returns copies of the packets held by online nodes, node by node
func (m *Mesh) Gather() []encode.Packet {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.gather()
}

func (m *Mesh) gather() []encode.Packet {
	var packets []encode.Packet
	for _, n := range m.nodes {
		if !n.online {
			continue
		}
		for _, pkt := range n.stored {
			packets = append(packets, pkt.Clone())
		}
	}
	return packets
}

// Reconstruct decodes the payload from the packets on online nodes
func (m *Mesh) Reconstruct(opts ...mycelium.Option) ([]byte, error) {
	m.lk.Lock()
	if m.meta == nil {
		m.lk.Unlock()
		return nil, ErrNoBundle
	}
	b := m.meta.WithPackets(m.gather())
	m.lk.Unlock()

	log.Infof("gathered %d packets from online nodes", len(b.Packets))
	data, err := mycelium.Decode(b, opts...)
	if err != nil {
		log.Warnf("reconstruction failed: %v", err)
		return nil, err
	}
	return data, nil
}

// Status returns a snapshot of every node in creation order
func (m *Mesh) Status() []NodeStatus {
	m.lk.Lock()
	defer m.lk.Unlock()

	status := make([]NodeStatus, len(m.nodes))
	for i, n := range m.nodes {
		status[i] = NodeStatus{Name: n.name, ID: n.id, Online: n.online, Packets: len(n.stored)}
	}
	return status
}

// Clear drops every stored packet and the bundle metadata
func (m *Mesh) Clear() {
	m.lk.Lock()
	defer m.lk.Unlock()
	for _, n := range m.nodes {
		n.stored = nil
	}
	m.meta = nil
}
