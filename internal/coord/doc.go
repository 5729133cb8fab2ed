// Package coord owns the ZooKeeper session used by discovery and state reporting.
//
// Ownership boundary:
// - session lifecycle and the single session-level watcher
// - base-path prefixing on requests and stripping on notifications
// - one-shot watch registration through a token table
// - ancestor creation (EnforcePath)
// - error classification into NotFound / NodeExists / Transient / Fatal kinds
//
// Every watch fires at most once. Callers re-arm by passing the same Watcher to
// their next read of the path. Registrations for the same (kind, path, watcher)
// collapse: only the newest one dispatches.
package coord
