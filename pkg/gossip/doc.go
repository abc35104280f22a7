// Package gossip propagates the membership directory of the cluster between
// nodes and detects failed peers.
//
// Each round the local node increments its heartbeat and synchronises its
// sorted peer list with a random selection of alive peers, plus the next
// suspect or dead peer in a shuffled rotation. The receiver merges the list
// and responds with the records the sender is missing or has an older version
// of, so every node has an eventually consistent view of the cluster.
//
// A phi accrual failure detector, fed by received messages and advancing
// heartbeats, picks peers that may have failed. Those peers are probed
// directly, then indirectly through other alive peers, and only marked suspect
// if every probe fails. Suspect peers are marked dead if they don't refute the
// suspicion within the suspicion timeout.
package gossip
