package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/prreview/internal/webhook"
)

var (
	flagWHURL    string
	flagWHEvent  string
	flagWHSecret string
	flagWHFile   string
	flagWHAction string
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Sign and send test webhook deliveries",
}

var webhookSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Print the X-Hub-Signature-256 value for a payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(flagWHFile, cmd.InOrStdin())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}
		secret, err := webhookSecret()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(payload, secret))
		return nil
	},
}

var webhookSendCmd = &cobra.Command{
	Use:   "send [owner/repo#N]",
	Short: "Send a signed delivery to a running server",
	Long: "Send a signed GitHub delivery to a prreview server. The payload is read from --file " +
		"(or stdin with --file -); with a pull request argument a minimal pull_request payload is built.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload []byte
		var err error
		if len(args) == 1 {
			payload, err = buildPullRequestPayload(args[0], flagWHAction)
			flagWHEvent = "pull_request"
		} else {
			payload, err = readPayload(flagWHFile, cmd.InOrStdin())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}

		secret, err := webhookSecret()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}

		status, body, err := sendDelivery(cmd.Context(), flagWHURL, flagWHEvent, secret, payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", status, strings.TrimSpace(string(body)))
		if status >= 300 {
			exitCode = ExitRuntimeError
		}
		return nil
	},
}

// webhookSecret returns --secret, else the configured webhook secret.
func webhookSecret() (string, error) {
	if flagWHSecret != "" {
		return flagWHSecret, nil
	}
	cfg, err := loadConfig(nil)
	if err != nil {
		return "", err
	}
	return cfg.Webhook.Secret, nil
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	switch path {
	case "":
		return nil, fmt.Errorf("no payload: use --file or a pull request argument")
	case "-":
		return io.ReadAll(stdin)
	default:
		return os.ReadFile(path)
	}
}

func buildPullRequestPayload(ref, action string) ([]byte, error) {
	pr, err := parsePRArgs([]string{ref}, "")
	if err != nil {
		return nil, err
	}
	if action == "" {
		action = "opened"
	}
	return json.Marshal(webhook.Payload{
		Action: action,
		Number: pr.Number,
		PullRequest: &webhook.PullRequest{
			Number:  pr.Number,
			Title:   "Test delivery",
			DiffURL: fmt.Sprintf("https://github.com/%s/%s/pull/%d.diff", pr.Owner, pr.Repo, pr.Number),
		},
		Repository: &webhook.Repository{
			Name:     pr.Repo,
			FullName: pr.Slug(),
			Owner:    webhook.Account{Login: pr.Owner},
		},
		Sender: &webhook.Account{Login: "prreview"},
	})
}

func sendDelivery(ctx context.Context, url, event, secret string, payload []byte) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderEvent, event)
	req.Header.Set(webhook.HeaderDelivery, uuid.New().String())
	if secret != "" {
		req.Header.Set(webhook.HeaderSignature, webhook.Sign(payload, secret))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sending delivery: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func init() {
	webhookCmd.AddCommand(webhookSignCmd)
	webhookCmd.AddCommand(webhookSendCmd)

	webhookSignCmd.Flags().StringVar(&flagWHFile, "file", "", "Payload file (- for stdin)")
	webhookSignCmd.Flags().StringVar(&flagWHSecret, "secret", "", "Webhook secret (default: webhook.secret)")

	webhookSendCmd.Flags().StringVar(&flagWHURL, "url", "http://localhost:3000/webhook", "Webhook endpoint")
	webhookSendCmd.Flags().StringVar(&flagWHEvent, "event", "pull_request", "X-GitHub-Event header")
	webhookSendCmd.Flags().StringVar(&flagWHSecret, "secret", "", "Webhook secret (default: webhook.secret)")
	webhookSendCmd.Flags().StringVar(&flagWHFile, "file", "", "Payload file (- for stdin)")
	webhookSendCmd.Flags().StringVar(&flagWHAction, "action", "opened", "Pull request action for a built payload")
}
