package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var vacuumAddr string

var vacuumCmd = &cobra.Command{
	Use:   "vacuum <collection>",
	Short: "Trigger an immediate vacuum of one vector collection on a running server",
	Long: `Connects to a running kissvdb instance over its HTTP surface and
triggers a vacuum of the named vector collection. Unlike the scheduler's
automatic poll, this always rewrites — the tombstone-ratio threshold only
decides when the scheduler triggers a vacuum on its own, not whether a
manual one runs. "rewrote": false in the response just means the collection
held no records at all, live or tombstoned.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVacuum(args[0])
	},
}

func init() {
	vacuumCmd.Flags().StringVar(&vacuumAddr, "addr", "http://127.0.0.1:8089", "base URL of the running kissvdb instance")
}

func runVacuum(collection string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/v1/vectors/%s/vacuum", vacuumAddr, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable at %s: %w", vacuumAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Rewrote bool `json:"rewrote"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if out.Rewrote {
		fmt.Printf("vacuumed %q: collection was rewritten\n", collection)
	} else {
		fmt.Printf("vacuumed %q: collection was empty, nothing to rewrite\n", collection)
	}
	return nil
}
