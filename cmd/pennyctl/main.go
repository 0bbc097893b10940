// pennyctl is the operator CLI for the pennyroute HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	baseURL    string
	adminToken string
)

func main() {
	root := &cobra.Command{
		Use:           "pennyctl",
		Short:         "Operator CLI for the pennyroute job router",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "url",
		envOr("PENNYROUTE_URL", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVar(&adminToken, "token",
		os.Getenv("PENNYROUTE_ADMIN_TOKEN"), "bearer token for admin commands")

	root.AddCommand(submitCmd(), getCmd(), costsCmd(), modelsCmd(), healthCmd(), reloadCmd(), vaultCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func submitCmd() *cobra.Command {
	var (
		userID      string
		taskType    string
		integration string
		qualityMin  int
		costCeiling float64
		provider    string
		model       string
		dedupeKey   string
		async       bool
		options     []string
	)
	cmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Submit a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"user_id":   userID,
				"task_type": taskType,
				"prompt":    args[0],
			}
			if integration != "" {
				body["integration"] = integration
			}
			if qualityMin > 0 {
				body["quality_floor"] = qualityMin
			}
			if costCeiling > 0 {
				body["cost_ceiling_usd"] = costCeiling
			}
			if provider != "" {
				body["provider"] = provider
			}
			if model != "" {
				body["model"] = model
			}
			if dedupeKey != "" {
				body["dedupe_key"] = dedupeKey
			}
			if async {
				body["async"] = true
			}
			if len(options) > 0 {
				opts := map[string]string{}
				for _, kv := range options {
					k, v, ok := strings.Cut(kv, "=")
					if !ok || k == "" {
						return fmt.Errorf("bad --opt %q, want key=value", kv)
					}
					opts[k] = v
				}
				body["options"] = opts
			}
			return call(http.MethodPost, "/v1/jobs", body, false)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "submitting user id")
	cmd.Flags().StringVar(&taskType, "task", "generic", "task type")
	cmd.Flags().StringVar(&integration, "integration", "", "integration kind, e.g. mail.triage")
	cmd.Flags().IntVar(&qualityMin, "quality-floor", 0, "minimum model quality")
	cmd.Flags().Float64Var(&costCeiling, "cost-ceiling", 0, "max estimated cost in USD (0 = uncapped)")
	cmd.Flags().StringVar(&provider, "provider", "", "pin a provider")
	cmd.Flags().StringVar(&model, "model", "", "pin a model")
	cmd.Flags().StringVar(&dedupeKey, "dedupe-key", "", "idempotency key")
	cmd.Flags().BoolVar(&async, "async", false, "queue instead of waiting")
	cmd.Flags().StringArrayVar(&options, "opt", nil, "integration option key=value (repeatable)")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/jobs/"+args[0], nil, false)
		},
	}
}

func costsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "costs <job-id>",
		Short: "Show a job's cost records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/jobs/"+args[0]+"/costs", nil, false)
		},
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the pricing catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := fetch(http.MethodGet, "/admin/v1/models", nil, true)
			if err != nil {
				return err
			}
			var body struct {
				Models []struct {
					Provider        string  `json:"provider"`
					Model           string  `json:"model"`
					PriceInPer1K    float64 `json:"price_in_per_1k"`
					PriceOutPer1K   float64 `json:"price_out_per_1k"`
					BaselineQuality int     `json:"baseline_quality"`
					FallbackModel   string  `json:"fallback_model"`
				} `json:"models"`
			}
			if err := json.Unmarshal(data, &body); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tIN/1K\tOUT/1K\tQUALITY\tFALLBACK")
			for _, m := range body.Models {
				fmt.Fprintf(w, "%s\t%s\t$%.5f\t$%.5f\t%d\t%s\n",
					m.Provider, m.Model, m.PriceInPer1K, m.PriceOutPer1K, m.BaselineQuality, m.FallbackModel)
			}
			return w.Flush()
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show provider health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/admin/v1/providers/health", nil, true)
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the pricing catalog from disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/admin/v1/catalog/reload", nil, true)
		},
	}
}

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the credential vault",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "unlock <password>",
		Short: "Unlock the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/admin/v1/vault/unlock",
				map[string]string{"password": args[0]}, true)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "lock",
		Short: "Lock the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/admin/v1/vault/lock", nil, true)
		},
	})
	return cmd
}

// call performs the request and pretty-prints the JSON response.
func call(method, path string, body any, admin bool) error {
	data, err := fetch(method, path, body, admin)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if json.Indent(&buf, data, "", "  ") == nil {
		fmt.Println(buf.String())
	} else {
		fmt.Println(string(data))
	}
	return nil
}

func fetch(method, path string, body any, admin bool) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		if adminToken == "" {
			return nil, fmt.Errorf("admin token required (set PENNYROUTE_ADMIN_TOKEN or --token)")
		}
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
