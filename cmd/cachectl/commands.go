package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/keycache/cache"
)

var errUnhealthy = errors.New("storage is unhealthy")

// keyFlags selects a derived key: base plus the arguments at --params.
type keyFlags struct {
	args   string
	params []int
}

func (f *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.args, "args", "", `Call arguments as a JSON array, e.g. '["en", 42]'`)
	cmd.Flags().IntSliceVar(&f.params, "params", nil, "Argument positions that select the child key")
}

func (f *keyFlags) values() ([]any, error) {
	if f.args == "" {
		return nil, nil
	}
	var args []any
	if err := json.Unmarshal([]byte(f.args), &args); err != nil {
		return nil, fmt.Errorf("--args must be a JSON array: %w", err)
	}
	return args, nil
}

func getCmd() *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the stored value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cfg, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			callArgs, err := kf.values()
			if err != nil {
				return err
			}
			enc, _ := cache.ParseKeyEncoding(cfg.Engine.KeyEncoding)
			key, err := cache.NewKeyer(enc).Derive(args[0], callArgs, kf.params)
			if err != nil {
				return err
			}

			raw, found, err := rt.Storage.Get(ctx, key)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("key %q not found", key)
			}
			if output == "json" {
				var value any = string(raw)
				if json.Valid(raw) {
					value = json.RawMessage(raw)
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"key": key, "value": value})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	}
	kf.register(cmd)
	return cmd
}

func childrenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "children <key>",
		Short: "List the derived keys registered under a base key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, _, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			children, err := rt.Engine.Children(ctx, args[0])
			if err != nil {
				return err
			}
			if output == "json" {
				if children == nil {
					children = []string{}
				}
				return writeJSON(cmd.OutOrStdout(), children)
			}
			for _, c := range children {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

func kindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kind <key>",
		Short: "Print the recorded kind of a base key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, _, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			kind, ok, err := rt.Engine.Kind(ctx, args[0])
			if err != nil {
				return err
			}
			name := "unknown"
			if ok {
				name = kind.String()
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"key": args[0], "kind": name})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), name)
			return err
		},
	}
}

func bustCmd() *cobra.Command {
	var (
		kf  keyFlags
		all bool
	)
	cmd := &cobra.Command{
		Use:   "bust <key> [key...]",
		Short: "Invalidate keys",
		Long: "Invalidate one or more base keys. With --all every registered child is\n" +
			"deleted as well; with --params only the child selected by --args is.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, _, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			callArgs, err := kf.values()
			if err != nil {
				return err
			}
			targets := make([]cache.BustTarget, 0, len(args))
			for _, key := range args {
				targets = append(targets, cache.BustTarget{Key: key, Params: kf.params, BustAllChildren: all})
			}
			if err := rt.Engine.Invalidate(ctx, callArgs, targets...); err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"busted": args})
			}
			for _, key := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "busted %s\n", key)
			}
			return nil
		},
	}
	kf.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Also delete every registered child key")
	return cmd
}

func healthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the configured storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, _, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			checker := rt.HealthChecker()
			if timeout > 0 {
				checker.Timeout = timeout
			}
			res := checker.Check(ctx)

			if output == "json" {
				out := map[string]any{
					"name":     checker.Name(),
					"status":   res.Status.String(),
					"message":  res.Message,
					"duration": res.Duration.String(),
				}
				if res.Error != nil {
					out["error"] = res.Error.Error()
				}
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CHECK\tSTATUS\tDURATION\tMESSAGE")
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", checker.Name(), res.Status, res.Duration.Round(time.Microsecond), res.Message)
				if err := w.Flush(); err != nil {
					return err
				}
			}
			if res.Status == cache.HealthUnhealthy {
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Check timeout (default 5s)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
