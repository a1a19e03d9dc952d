// Package graph holds the topology of a processing graph: the nodes, the
// typed connections between their ports and the deterministic render order
// derived from them.
//
// # Invariants
//
// Every mutation either succeeds completely or leaves the graph unchanged.
// After any sequence of operations:
//   - every connection runs from an existing output port to an existing input
//     port of the same type;
//   - no connection is present twice;
//   - control inputs never exceed their fan-in limit;
//   - the connection set is acyclic, self-loops included.
//
// Cycles are rejected when the connection is added by checking whether the
// destination already reaches the source, so the graph never has to be
// repaired afterwards.
//
// # Render Order
//
// Order is Kahn's algorithm with a min-heap as the ready set:
//
//	A(1) ──▶ B(2) ──▶ C(3)      Order() = [1 2 3]
//	A(1)     B(2) ──▶ C(3)      Order() = [1 2 3]
//	A(1) ◀── B(2)    C(3)       Order() = [2 1 3]
//
// The smallest ready id is always emitted first, so two graphs with equal
// node and connection sets produce the same order no matter how they were
// built.
//
// # Thread-Safety
//
// A Graph is owned by a single controller goroutine. The real-time thread
// reads immutable plans compiled from it (see internal/engine), never the
// Graph itself.
package graph
