// Package webhook receives GitHub webhook deliveries.
//
// When a secret is configured, the X-Hub-Signature-256 header must be the
// HMAC-SHA256 of the raw body, compared in constant time; otherwise the
// delivery is rejected with 401 before the body is parsed. Every accepted
// delivery is echoed to the activity log. Pull request deliveries whose
// action is a trigger (opened and synchronize by default) submit an
// analysis and are answered with 202 at once; the analysis outcome reaches
// observers on the analysis channel, never the webhook response.
package webhook
