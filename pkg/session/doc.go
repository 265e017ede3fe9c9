// Package session holds the current authenticated session of a client
// instance.
//
// A Store keeps one immutable Session snapshot, notifies listeners after
// every change, persists the snapshot through an optional Persister and
// schedules predictive refreshes. Stores that share a Broadcaster stay in
// sync on logout: clearing one store publishes a logout event, and every
// sibling store clears itself without publishing again.
//
// Broadcasters:
//
//	LocalBus         in-process fan-out (tabs in one process, tests)
//	RedisBroadcaster Redis PUBLISH/SUBSCRIBE between processes
//	FileBroadcaster  signal file in a shared directory, watched with fsnotify
//
// Persisters:
//
//	FilePersister JSON file, mode 0600, replaced atomically
//	SQLPersister  one row per slot in the authd_sessions table
package session
