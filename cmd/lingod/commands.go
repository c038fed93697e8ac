package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okhotin/lingod/internal/config"
	"github.com/okhotin/lingod/internal/extract"
)

// --- translate ---

var translateCmd = &cobra.Command{
	Use:   "translate [text...]",
	Short: "Translate text or a document",
	Long: `Translate text or a document through the running daemon.

Examples:
  lingod translate --target fr "Good morning"
  lingod translate --target de --mode block "First sentence" "Second sentence"
  lingod translate --target es --file ./article.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		source, _ := cmd.Flags().GetString("source")
		model, _ := cmd.Flags().GetString("model")
		mode, _ := cmd.Flags().GetString("mode")
		file, _ := cmd.Flags().GetString("file")

		if target == "" {
			return fmt.Errorf("--target is required")
		}
		if len(args) == 0 && file == "" {
			return fmt.Errorf("pass text arguments or --file")
		}
		if len(args) > 0 && file != "" {
			return fmt.Errorf("text arguments and --file are mutually exclusive")
		}

		var fragments []string
		if file != "" {
			var err error
			fragments, err = extract.Fragments(file)
			if err != nil {
				return err
			}
			if len(fragments) == 0 {
				return fmt.Errorf("no text found in %s", file)
			}
			// Documents default to contextual so the model sees
			// cross-paragraph context.
			if mode == "" {
				mode = "contextual"
			}
		} else {
			fragments = args
			if mode == "" {
				if len(args) == 1 {
					mode = "simple"
				} else {
					mode = "block"
				}
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		// Streamed translations can outlast the default client timeout.
		client.httpClient.Timeout = 0

		body := map[string]any{
			"fragments": fragments,
			"target":    target,
			"mode":      mode,
			"stream":    true,
		}
		if source != "" {
			body["source"] = source
		}
		if model != "" {
			body["model"] = model
		}

		resp, err := client.post(cmd.Context(), "/v1/translate", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			var doc struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.NewDecoder(resp.Body).Decode(&doc) == nil && doc.Error.Message != "" {
				return fmt.Errorf("%s", doc.Error.Message)
			}
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		return printEventStream(resp.Body, mode)
	},
}

// printEventStream renders a streamed translation to the terminal. Simple
// mode prints tokens as they arrive; block mode prints finished fragments;
// contextual mode prints the reconciled result.
func printEventStream(body io.Reader, mode string) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var e struct {
			RequestID string  `json:"request_id"`
			Kind      string  `json:"kind"`
			Resource  string  `json:"resource"`
			Percent   float64 `json:"percent"`
			Index     int     `json:"index"`
			Text      string  `json:"text"`
			Message   string  `json:"message"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("malformed event line: %w", err)
		}

		switch e.Kind {
		case "":
			// First line carries the request id only.
		case "progress":
			printStep("%s %.0f%%", e.Resource, e.Percent)
		case "chunk":
			if mode == "simple" {
				fmt.Print(e.Text)
			}
		case "block-chunk":
			fmt.Printf("%s %s\n", colorize(colorCyan, fmt.Sprintf("[%d]", e.Index)), e.Text)
		case "complete":
			if mode == "simple" {
				fmt.Println()
			} else {
				fmt.Println(e.Text)
			}
		case "block-complete":
		case "error", "block-error":
			return fmt.Errorf("translation failed: %s", e.Message)
		}
	}
	return scanner.Err()
}

func init() {
	translateCmd.Flags().String("target", "", "target language (required)")
	translateCmd.Flags().String("source", "", "source language (default: model detects)")
	translateCmd.Flags().String("model", "", "model name (default: server config)")
	translateCmd.Flags().String("mode", "", "translation mode: simple, block, or contextual")
	translateCmd.Flags().String("file", "", "translate a document (.txt, .html, .pdf)")
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available translation models",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/models")
		if err != nil {
			return err
		}

		var result struct {
			Models []string `json:"models"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Models) == 0 {
			fmt.Println("No models available.")
			return nil
		}
		for _, m := range result.Models {
			fmt.Println(m)
		}
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect translation history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent translation requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/requests?limit=%d", limit))
		if err != nil {
			return err
		}

		var result struct {
			Requests []struct {
				ID        string `json:"id"`
				CreatedAt string `json:"created_at"`
				Mode      string `json:"mode"`
				Model     string `json:"model"`
				Target    string `json:"target"`
				Status    string `json:"status"`
			} `json:"requests"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Requests) == 0 {
			fmt.Println("No requests found.")
			return nil
		}

		for _, r := range result.Requests {
			fmt.Printf("%s  %s  %-10s  %-8s  →%s  %s\n",
				colorize(colorCyan, r.ID[:8]),
				r.CreatedAt,
				r.Mode,
				r.Status,
				r.Target,
				r.Model,
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single request with its fragments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/requests/"+args[0])
		if err != nil {
			return err
		}

		var request any
		if err := decodeJSON(resp, &request); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(request)
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of requests to list")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			if strings.Contains(err.Error(), "unknown config key") {
				return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
			}
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
