// Package pulls maintains the dashboard's pull request listing.
//
// The listing aggregates every configured repository's pull requests,
// newest first, and is served from memory for a short TTL. Forced
// refreshes come from the REST layer, from pull_request webhooks and from
// an optional cron schedule; refreshes that overlap share one fetch.
package pulls
