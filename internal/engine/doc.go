// Package engine renders compiled plans on the real-time goroutine and
// coordinates plan replacement with the control goroutines.
//
// # Plan Publication
//
// A Plan is built from a graph on the control side and published with a
// single atomic pointer store. The real-time goroutine loads the pointer once
// per callback, so it always renders either the complete old plan or the
// complete new one.
//
// # Reclamation
//
// Nodes removed from the graph may still be referenced by the plan an
// in-flight callback is rendering. They are handed to Retire after the plan
// that no longer references them is published, and reclaimed by Collect
// once the callback counter shows that no older plan can still be in use:
//
//	RT:   active++  load plan  observed = gen  ... render ...  active--
//	Ctl:  publish N  retire(x)  ...  Collect: active == 0 || observed >= N
//
// # Suspension
//
// Suspend raises a flag and waits for the callback counter to drop to zero.
// A callback that starts after the flag is raised renders silence, so
// Prepare and Release may run on scheduled nodes while suspended.
package engine
