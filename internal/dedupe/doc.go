// Package dedupe provides a size-bounded TTL cache.
//
// The operator channel uses it twice: as a seen-set so a platform event that
// is redelivered (for example after a sync restart) is processed once, and as
// a short-lived index from claim notifications and short codes to session ids.
package dedupe
