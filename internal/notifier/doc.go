// Package notifier delivers fired reminders to the user.
//
// Delivery is asynchronous: Notify enqueues, a small worker pool sends
// through the configured Channel under a token-bucket rate limit, retrying
// failures with jittered exponential backoff. Identical notifications
// inside the dedup window are dropped.
//
// # Channels
//
//   - telegram: a chat message with inline Done and Snooze buttons
//   - pushover: the Pushover messages API
//   - log: writes the reminder to the log only
package notifier
