// Package dedupe remembers recently seen event ids so that a transport
// replaying its sync stream after a reconnect does not feed the same
// message to the desk twice.
package dedupe
