// Package alarm owns the time-driven side of the daemon.
//
// It provides:
//   - the single armed reminder, as a version-guarded one-shot timer that
//     implements reminder.Delivery
//   - named periodic jobs (status refresh, reconcile) on a robfig/cron
//     scheduler in the configured timezone
package alarm
