package fanout

import (
	"sync"

	"classhub/pkg/types"
)

// LoopbackBus is an in-process backplane for tests and single-binary
// deployments running several hub instances. Delivery is synchronous in
// attach order.
type LoopbackBus struct {
	mu    sync.RWMutex
	nodes []*loopbackNode
}

type loopbackNode struct {
	bus     *LoopbackBus
	handler func(*types.Envelope)

	mu    sync.Mutex
	rooms map[string]struct{}
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{}
}

// Attach adds one instance to the bus. The handler receives envelopes
// published by every attached instance, including the publisher itself;
// origin filtering is the fan-out layer's job, as with NATS.
func (b *LoopbackBus) Attach(handler func(*types.Envelope)) *loopbackNode {
	node := &loopbackNode{
		bus:     b,
		handler: handler,
		rooms:   make(map[string]struct{}),
	}

	b.mu.Lock()
	b.nodes = append(b.nodes, node)
	b.mu.Unlock()

	return node
}

func (n *loopbackNode) Publish(env *types.Envelope) error {
	n.bus.mu.RLock()
	nodes := make([]*loopbackNode, len(n.bus.nodes))
	copy(nodes, n.bus.nodes)
	n.bus.mu.RUnlock()

	for _, node := range nodes {
		node.mu.Lock()
		_, subscribed := node.rooms[env.RoomID]
		node.mu.Unlock()
		if subscribed {
			node.handler(env)
		}
	}
	return nil
}

func (n *loopbackNode) Subscribe(roomID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rooms[roomID] = struct{}{}
	return nil
}

func (n *loopbackNode) Unsubscribe(roomID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.rooms, roomID)
	return nil
}

func (n *loopbackNode) Close() {}
