// Package peer contains the cluster membership directory of a broker node.
//
// Each known broker is represented by a Peer record carrying its endpoints, a
// Heartbeat logical clock and a lifecycle State. Records are kept in a List
// sorted by the peers management endpoint, which is reconciled against
// batches of remote records received via gossip using Merge.
//
// The package performs no locking or I/O. The caller must serialize all
// access to a List.
package peer
