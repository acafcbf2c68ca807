// Package github is a small GitHub REST client for the review server.
//
// It fetches pull request diffs (by API URL or a webhook's diff_url),
// lists changed files with their patches, lists pull requests and
// accessible repositories for the dashboard, and posts review reports as
// PR conversation comments. Requests are anonymous when no token is set;
// the token can be replaced at runtime from the settings endpoint.
package github
