// Package server implements the channel-partitioned chat relay.
//
// The implementation is organized into specialized files: the Registry tracks
// which connection listens to which channel, the Broadcaster fans persisted
// events out to a channel's members, the Pipeline validates and persists
// inbound frames, and the Hub owns connection lifecycles together with the
// Client read/write pumps. Configuration, origin checks, rate limiting, routes
// and HTTP handlers live alongside.
package server
