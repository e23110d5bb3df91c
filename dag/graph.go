package dag

import (
	"hash/fnv"
	"sync"
)

// graphShards is the number of lock-striped shards in the graph. Point
// operations on ids that hash to different shards never contend.
const graphShards = 32

// Node is the graph's record for one transaction. Dependencies are
// copied from the transaction and immutable; Dependents grows as later
// transactions name this node. Processed is monotonic: set once, never
// reset.
type Node struct {
	Transaction  Transaction
	Dependencies []string
	Dependents   []string
	Processed    bool
}

type graphShard struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// Graph is a concurrent-safe store of transaction nodes keyed by id.
// All relationships are stored as id references, never pointers.
type Graph struct {
	shards [graphShards]*graphShard
}

// NewGraph creates an empty transaction graph.
func NewGraph() *Graph {
	g := &Graph{}
	for i := range g.shards {
		g.shards[i] = &graphShard{nodes: make(map[string]*Node)}
	}
	return g
}

func (g *Graph) shard(id string) *graphShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return g.shards[h.Sum32()%graphShards]
}

// Insert creates a node for the transaction, overwriting any existing
// node under the same id. For each dependency that already exists in the
// graph, the new id is appended to that node's dependent list. A
// dependency that is not present yet is NOT linked: if it arrives later
// it will never learn about this dependent, and this transaction stays
// pending forever. The caller is expected to log that condition.
// Returns the ids of dependencies that were missing at insert time.
func (g *Graph) Insert(tx Transaction) []string {
	deps := make([]string, len(tx.Dependencies))
	copy(deps, tx.Dependencies)

	s := g.shard(tx.ID)
	s.mu.Lock()
	s.nodes[tx.ID] = &Node{
		Transaction:  tx,
		Dependencies: deps,
		Dependents:   make([]string, 0),
	}
	s.mu.Unlock()

	var missing []string
	for _, depID := range deps {
		if !g.appendDependent(depID, tx.ID) {
			missing = append(missing, depID)
		}
	}
	return missing
}

// appendDependent records txID as a dependent of depID if depID exists.
func (g *Graph) appendDependent(depID, txID string) bool {
	s := g.shard(depID)
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[depID]
	if !ok {
		return false
	}
	node.Dependents = append(node.Dependents, txID)
	return true
}

// MarkProcessed sets the processed flag for the given id.
func (g *Graph) MarkProcessed(id string) error {
	s := g.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return ErrNotFound
	}
	node.Processed = true
	return nil
}

// Get returns a copy of the node for the given id.
func (g *Graph) Get(id string) (Node, error) {
	s := g.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return Node{}, ErrNotFound
	}
	return copyNode(node), nil
}

// Dependents returns the recorded dependents of the given id.
func (g *Graph) Dependents(id string) ([]string, error) {
	s := g.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]string, len(node.Dependents))
	copy(out, node.Dependents)
	return out, nil
}

// Dependencies returns the dependency list of the given id.
func (g *Graph) Dependencies(id string) ([]string, error) {
	s := g.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]string, len(node.Dependencies))
	copy(out, node.Dependencies)
	return out, nil
}

// Processed reports whether the node exists and has been processed.
func (g *Graph) Processed(id string) bool {
	s := g.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	return ok && node.Processed
}

// DependenciesSatisfied reports whether every dependency of the given id
// maps to an existing, processed node. A missing node or missing
// dependency yields false.
func (g *Graph) DependenciesSatisfied(id string) bool {
	deps, err := g.Dependencies(id)
	if err != nil {
		return false
	}
	for _, depID := range deps {
		if !g.Processed(depID) {
			return false
		}
	}
	return true
}

// Len returns the total number of nodes.
func (g *Graph) Len() int {
	total := 0
	for _, s := range g.shards {
		s.mu.RLock()
		total += len(s.nodes)
		s.mu.RUnlock()
	}
	return total
}

// ProcessedCount returns the number of processed nodes.
func (g *Graph) ProcessedCount() int {
	count := 0
	for _, s := range g.shards {
		s.mu.RLock()
		for _, node := range s.nodes {
			if node.Processed {
				count++
			}
		}
		s.mu.RUnlock()
	}
	return count
}

// Range calls fn for a copy of every node. Iteration order is
// unspecified. Returning false from fn stops the iteration.
func (g *Graph) Range(fn func(Node) bool) {
	for _, s := range g.shards {
		s.mu.RLock()
		nodes := make([]Node, 0, len(s.nodes))
		for _, node := range s.nodes {
			nodes = append(nodes, copyNode(node))
		}
		s.mu.RUnlock()

		for _, node := range nodes {
			if !fn(node) {
				return
			}
		}
	}
}

func copyNode(node *Node) Node {
	out := Node{
		Transaction:  node.Transaction,
		Dependencies: make([]string, len(node.Dependencies)),
		Dependents:   make([]string, len(node.Dependents)),
		Processed:    node.Processed,
	}
	copy(out.Dependencies, node.Dependencies)
	copy(out.Dependents, node.Dependents)
	return out
}
