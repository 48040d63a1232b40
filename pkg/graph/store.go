package graph

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tcmartin/flowcomposer/pkg/logging"
)

// CommitFunc receives the computed next snapshot when the store runs in
// controlled mode. The owner is the sole writer; the store does not also
// apply the snapshot locally.
type CommitFunc func(Snapshot)

// Subscriber is notified with the committed snapshot after each operation
type Subscriber func(Snapshot)

// Store is the single source of truth for the node and edge collections of
// one editing session. Every operation commits a brand-new copy of the
// collections, so callers holding a previous snapshot never see it change
// underneath them.
//
// Operations are serialized: overlapping callers (a drag handler, a plan
// apply, a stream event) each get one atomic commit and one notification,
// in order. Subscribers may read from the store inside the callback but
// must not mutate it there.
type Store struct {
	// commitMu serializes whole logical operations including notification
	commitMu sync.Mutex

	// stateMu guards the collections for readers
	stateMu sync.RWMutex

	nodes []Node
	edges []Edge

	controlled bool
	commit     CommitFunc

	subMu   sync.Mutex
	subs    []subscription
	nextSub int

	logger logging.Logger
}

type subscription struct {
	id int
	fn Subscriber
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithControlled puts the store in controlled mode: mutation operations
// compute the next snapshot and hand it to commit instead of applying it
// locally. SetNodes, SetEdges and SetGraph remain the owner's channel for
// pushing authoritative state back down.
func WithControlled(commit CommitFunc) Option {
	return func(s *Store) {
		s.controlled = true
		s.commit = commit
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s
}

// Controlled reports whether the store is in controlled mode
func (s *Store) Controlled() bool {
	return s.controlled
}

// Subscribe registers fn to be called with each committed snapshot, in
// commit order. The returned function removes the subscription.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Nodes returns a copy of the current node collection
func (s *Store) Nodes() []Node {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return cloneNodes(s.nodes)
}

// Edges returns a copy of the current edge collection
func (s *Store) Edges() []Edge {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return cloneEdges(s.edges)
}

// Snapshot returns a copy of both collections from one committed state
func (s *Store) Snapshot() Snapshot {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return Snapshot{Nodes: cloneNodes(s.nodes), Edges: cloneEdges(s.edges)}
}

// Node returns the node with the given id from the current state
func (s *Store) Node(id string) (Node, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	for _, node := range s.nodes {
		if node.ID == id {
			return node.Clone(), true
		}
	}
	return Node{}, false
}

// SetNodes replaces the node collection wholesale. Used when an external
// source (a loaded workflow, a controlling owner) supplies authoritative
// data. Always applies locally, even in controlled mode.
func (s *Store) SetNodes(nodes []Node) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.apply(cloneNodes(nodes), s.readEdges())
}

// SetEdges replaces the edge collection wholesale
func (s *Store) SetEdges(edges []Edge) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.apply(s.readNodes(), cloneEdges(edges))
}

// SetGraph replaces both collections in one commit
func (s *Store) SetGraph(nodes []Node, edges []Edge) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.apply(cloneNodes(nodes), cloneEdges(edges))
}

// AddNode appends a node, assigning an id when one is missing. A duplicate
// id is a logged no-op so racing callers cannot split the graph's identity.
func (s *Store) AddNode(node Node) string {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if node.ID == "" {
		node.ID = uuid.NewString()
	}

	nodes := s.readNodes()
	for _, existing := range nodes {
		if existing.ID == node.ID {
			s.logger.Warn("ignoring add for existing node", logging.F("node_id", node.ID))
			return node.ID
		}
	}

	s.commitOrHandOff(append(nodes, node.Clone()), s.readEdges())
	return node.ID
}

// UpdateNode merges patch into the node's data. An absent id is a logged
// no-op, never an error, because update sources race with deletion.
func (s *Store) UpdateNode(id string, patch map[string]interface{}) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	nodes := s.readNodes()
	found := false
	for i, node := range nodes {
		if node.ID != id {
			continue
		}
		if node.Data == nil {
			nodes[i].Data = make(map[string]interface{}, len(patch))
		}
		for k, v := range patch {
			nodes[i].Data[k] = copyValue(v)
		}
		found = true
		break
	}

	if !found {
		s.logger.Debug("ignoring update for unknown node", logging.F("node_id", id))
		return
	}

	s.commitOrHandOff(nodes, s.readEdges())
}

// MoveNode records a new canvas position for the node. An absent id is a
// logged no-op.
func (s *Store) MoveNode(id string, pos Position) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	nodes := s.readNodes()
	found := false
	for i, node := range nodes {
		if node.ID == id {
			nodes[i].Position = pos
			found = true
			break
		}
	}

	if !found {
		s.logger.Debug("ignoring move for unknown node", logging.F("node_id", id))
		return
	}

	s.commitOrHandOff(nodes, s.readEdges())
}

// DeleteNode removes the node and, in the same commit, every edge whose
// source or target is the node. Deleting an absent id is a no-op.
func (s *Store) DeleteNode(id string) {
	s.DeleteNodes(id)
}

// DeleteNodes removes the given nodes and all of their incident edges in a
// single commit. Absent ids are skipped.
func (s *Store) DeleteNodes(ids ...string) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}

	nodes := s.readNodes()
	kept := nodes[:0]
	removed := 0
	for _, node := range nodes {
		if doomed[node.ID] {
			removed++
			continue
		}
		kept = append(kept, node)
	}

	if removed == 0 {
		s.logger.Debug("ignoring delete for unknown nodes", logging.F("node_ids", ids))
		return
	}

	edges := s.readEdges()
	keptEdges := edges[:0]
	for _, edge := range edges {
		if doomed[edge.Source] || doomed[edge.Target] {
			continue
		}
		keptEdges = append(keptEdges, edge)
	}

	s.commitOrHandOff(kept, keptEdges)
}

// DeleteEdge removes one edge. An absent id is a no-op.
func (s *Store) DeleteEdge(id string) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	edges := s.readEdges()
	kept := edges[:0]
	removed := false
	for _, edge := range edges {
		if edge.ID == id {
			removed = true
			continue
		}
		kept = append(kept, edge)
	}

	if !removed {
		s.logger.Debug("ignoring delete for unknown edge", logging.F("edge_id", id))
		return
	}

	s.commitOrHandOff(s.readNodes(), kept)
}

// Connect appends a new edge built from the connection. An edge into the
// tool port renders dashed and static; every other edge is solid and
// animated. No deduplication is performed.
func (s *Store) Connect(conn Connection) string {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	edge := Edge{
		ID:           uuid.NewString(),
		Source:       conn.Source,
		Target:       conn.Target,
		SourceHandle: conn.SourceHandle,
		TargetHandle: conn.TargetHandle,
	}
	if conn.TargetHandle == ToolHandle {
		edge.Dashed = true
	} else {
		edge.Animated = true
	}

	s.commitOrHandOff(s.readNodes(), append(s.readEdges(), edge))
	return edge.ID
}

// Apply runs fn against a copy of the current state and commits the result
// as one operation. Concurrent operations cannot land between the read and
// the commit, so fn never diffs against a stale copy.
func (s *Store) Apply(fn func(Snapshot) Snapshot) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	next := fn(Snapshot{Nodes: s.readNodes(), Edges: s.readEdges()})
	s.commitOrHandOff(next.Nodes, next.Edges)
}

// DeselectAll clears the selected flag on every node and edge
func (s *Store) DeselectAll() {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	nodes := s.readNodes()
	for i := range nodes {
		nodes[i].Selected = false
	}
	edges := s.readEdges()
	for i := range edges {
		edges[i].Selected = false
	}

	s.commitOrHandOff(nodes, edges)
}

// readNodes returns a working copy of the node collection. Callers hold
// commitMu, so the copy cannot go stale before it is committed.
func (s *Store) readNodes() []Node {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return cloneNodes(s.nodes)
}

func (s *Store) readEdges() []Edge {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return cloneEdges(s.edges)
}

// commitOrHandOff finishes a mutation: in controlled mode the next snapshot
// goes to the owner's commit function, otherwise it is applied locally and
// subscribers are notified. Callers hold commitMu.
func (s *Store) commitOrHandOff(nodes []Node, edges []Edge) {
	if s.controlled {
		if s.commit != nil {
			s.commit(Snapshot{Nodes: nodes, Edges: edges})
		}
		return
	}
	s.apply(nodes, edges)
}

// apply installs the new collections and notifies subscribers. Callers hold
// commitMu, which keeps notifications in commit order.
func (s *Store) apply(nodes []Node, edges []Edge) {
	s.stateMu.Lock()
	s.nodes = nodes
	s.edges = edges
	s.stateMu.Unlock()

	s.subMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	if len(subs) == 0 {
		return
	}

	snapshot := Snapshot{Nodes: cloneNodes(nodes), Edges: cloneEdges(edges)}
	for _, sub := range subs {
		sub.fn(snapshot)
	}
}
