// Package lockout tracks failed authentication attempts per principal key.
//
// A key is locked after Config.Threshold failures inside Config.FailureWindow
// and stays locked for Config.LockoutDuration. Any successful login clears
// the record. Keys are trimmed and lower-cased, so "Mandor@Estate.id" and
// "mandor@estate.id " share a record.
//
// MemoryTracker serves a single process; RedisTracker shares state between
// replicas:
//
//	tracker := lockout.NewRedisTracker(rdb, lockout.DefaultConfig(), "authd:lockout")
//
// A Sweeper bounds MemoryTracker's memory on a cron schedule:
//
//	sweeper, _ := lockout.NewSweeper(memTracker, "@every 1m", logger)
//	sweeper.Start()
//	defer sweeper.Stop()
package lockout
