// Prreview is a pull request review assistant.
//
// It receives GitHub pull request webhooks, fetches the diff, asks a
// critical-bug expert and a style-suggestion expert about it concurrently,
// and pushes a Markdown report to dashboard clients over a WebSocket.
//
// Usage:
//
//	prreview serve                        # webhook, push channel and dashboard API on :3000
//	prreview analyze octo/demo#42         # run the two-expert analysis once
//	prreview review octo/demo 42 --post   # detailed review posted as a PR comment
//	prreview github prs                   # list pull requests of configured repositories
//	prreview webhook send octo/demo#42    # send a signed test delivery to a running server
//	prreview config show                  # print the effective configuration
package main
