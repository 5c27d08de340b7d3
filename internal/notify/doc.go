// Package notify delivers best-effort refresh events to groups of redundant
// media-player instances. Within a group, instances are tried in order until
// one responds; total group failure is reported, not fatal.
package notify
