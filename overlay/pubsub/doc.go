// Package pubsub fans a message out to every known subscriber of a topic
// (a group conversation's membership set) using a bounded worker pool so a
// single slow or unreachable peer cannot stall delivery to the rest.
package pubsub
