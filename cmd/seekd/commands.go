package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nvoss/seekd/internal/recovery"
	"github.com/nvoss/seekd/internal/retry"
	"github.com/nvoss/seekd/internal/state"
)

// --- state ---

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit persisted application state",
}

var stateSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Save a state value (type inferred from the literal)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Save(args[0], parseValue(args[1])); err != nil {
			return err
		}
		printSuccess("Saved %s", args[0])
		return nil
	},
}

var stateGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a state value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		v := store.Load(args[0], nil)
		if v == nil {
			printWarning("No value for %s", args[0])
			return nil
		}
		return printJSON(v)
	},
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print all state keys and values as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		return printJSON(store.GetAll())
	},
}

var stateDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a state key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		if store.Delete(args[0]) {
			printSuccess("Deleted %s", args[0])
		} else {
			printWarning("No value for %s", args[0])
		}
		return nil
	},
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all state, search records, and checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ClearAll(); err != nil {
			return err
		}
		printSuccess("Cleared all state")
		return nil
	},
}

// parseValue infers the stored type from a command-line literal: int,
// float, bool, JSON object/array, or plain string.
func parseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return s
}

// --- checkpoint ---

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and create recovery checkpoints",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a checkpoint as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		cp := store.LoadCheckpoint(args[0])
		if cp == nil {
			printWarning("No checkpoint %s", args[0])
			return nil
		}
		return printJSON(map[string]any{
			"checkpoint_id": cp.CheckpointID,
			"operation":     cp.Operation,
			"state_data":    cp.StateData,
			"created_at":    cp.CreatedAt,
		})
	},
}

var checkpointSaveCmd = &cobra.Command{
	Use:   "save <id> <operation> <json>",
	Short: "Create or replace a checkpoint from a JSON payload",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data map[string]any
		if err := json.Unmarshal([]byte(args[2]), &data); err != nil {
			return fmt.Errorf("parsing state data: %w", err)
		}

		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.CreateCheckpoint(args[0], args[1], data); err != nil {
			return err
		}
		printSuccess("Checkpoint %s saved", args[0])
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Manage persisted job searches",
}

var searchAddCmd = &cobra.Command{
	Use:   "add <query>",
	Short: "Queue a job search for the runner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		id := uuid.New().String()
		if err := store.SaveSearchState(state.SearchState{
			SearchID: id,
			Query:    args[0],
			Status:   state.SearchPending,
		}); err != nil {
			return err
		}
		printSuccess("Queued search %s", id)
		return nil
	},
}

var searchShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a search record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		st := store.LoadSearchState(args[0])
		if st == nil {
			printWarning("No search %s", args[0])
			return nil
		}
		return printJSON(map[string]any{
			"search_id":   st.SearchID,
			"query":       st.Query,
			"status":      st.Status,
			"results":     st.Results,
			"error_count": st.ErrorCount,
			"last_error":  st.LastError,
			"created_at":  st.CreatedAt,
			"updated_at":  st.UpdatedAt,
		})
	},
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain pending searches through the recovery runner",
	Long: `Drain pending searches through the recovery runner.

The search backend is an external command given by --exec. It is invoked
with the query as its single argument and must print a JSON array of
result objects on stdout:

  seekd search add "golang backend berlin"
  seekd run --exec ./board-scraper`,
	RunE: func(cmd *cobra.Command, args []string) error {
		execCmd, _ := cmd.Flags().GetString("exec")
		if execCmd == "" {
			return fmt.Errorf("--exec is required")
		}

		cfg, lg, err := setup()
		if err != nil {
			return err
		}
		defer lg.Sync()

		store, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer store.Close()

		policy, err := cfg.Retry.Policy()
		if err != nil {
			return err
		}
		policy.Classify = recovery.ClassifyGuarded

		runner := recovery.NewRunner(store, execSearchFunc(execCmd),
			recovery.WithExecutor(retry.New(policy, retry.WithLogger(lg))),
			recovery.WithBreaker(newBreaker(cfg, lg)),
			recovery.WithPollInterval(cfg.Runner.PollInterval),
			recovery.WithLogger(lg),
		)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printStep("Running searches via %s (ctrl-c to stop)", execCmd)
		runner.Run(ctx)
		return nil
	},
}

// execSearchFunc adapts an external command into a recovery.SearchFunc.
func execSearchFunc(command string) recovery.SearchFunc {
	return func(ctx context.Context, query string) ([]map[string]any, error) {
		out, err := exec.CommandContext(ctx, command, query).Output()
		if err != nil {
			return nil, fmt.Errorf("running %s: %w", command, err)
		}
		return parseResults(out)
	}
}

// parseResults decodes the backend's stdout as a JSON array of result
// objects.
func parseResults(out []byte) ([]map[string]any, error) {
	var results []map[string]any
	if err := json.Unmarshal(out, &results); err != nil {
		return nil, fmt.Errorf("parsing search results: %w", err)
	}
	return results, nil
}

func init() {
	runCmd.Flags().String("exec", "", "command invoked per query to perform the search")

	stateCmd.AddCommand(stateSetCmd, stateGetCmd, stateListCmd, stateDeleteCmd, stateClearCmd)
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointSaveCmd)
	searchCmd.AddCommand(searchAddCmd, searchShowCmd)
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the seekd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "seekd version %s\n", version)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
