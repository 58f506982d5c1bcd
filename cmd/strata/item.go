package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/strata/internal/calendar"
	"github.com/hyperengineering/strata/internal/cascade"
	"github.com/hyperengineering/strata/internal/config"
	"github.com/hyperengineering/strata/internal/store"
	"github.com/hyperengineering/strata/internal/types"
	"github.com/hyperengineering/strata/internal/validation"
)

// localOptions are the flags shared by commands that open the database
// file directly.
type localOptions struct {
	dbPath     string
	orgID      string
	jsonOutput bool
}

func (o *localOptions) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.dbPath, "db", "", "Database path (overrides config and STRATA_DB_PATH)")
	f.StringVar(&o.orgID, "org", "default", "Organization ID")
	f.BoolVar(&o.jsonOutput, "json", false, "Output in JSON format")
}

// open loads configuration without requiring an API key and opens the
// store, filling in dbPath from config when --db was not given. Store and engine logs go to stderr at warn level so they do not
// mix with command output.
func (o *localOptions) open(cmd *cobra.Command) (*store.SQLiteStore, *cascade.Engine, error) {
	o.orgID = strings.TrimSpace(o.orgID)
	if o.orgID == "" {
		return nil, nil, errors.New("--org must not be empty")
	}

	cfg, err := config.LoadLocal()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), config.LogConfig{Level: "warn", Format: "text"})
	slog.SetDefault(logger)

	engine, err := newEngine(cfg, cascade.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	if o.dbPath == "" {
		o.dbPath = cfg.Database.Path
	}
	db, err := openStore(cfg, o.dbPath, engine)
	if err != nil {
		return nil, nil, err
	}
	return db, engine, nil
}

func newItemCmd() *cobra.Command {
	opts := &localOptions{}

	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage items",
		Long:  "Create, inspect, change, and delete items without running the server.",
	}
	opts.register(cmd)

	cmd.AddCommand(newItemCreateCmd(opts))
	cmd.AddCommand(newItemShowCmd(opts))
	cmd.AddCommand(newItemChainCmd(opts))
	cmd.AddCommand(newItemListCmd(opts))
	cmd.AddCommand(newItemUpdateCmd(opts))
	cmd.AddCommand(newItemDeleteCmd(opts))
	return cmd
}

func newItemCreateCmd(opts *localOptions) *cobra.Command {
	var (
		timeframe string
		category  int
		text      string
		status    string
		pos       positionFlags
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a root item and cascade it to finer timeframes",
		Example: `  strata item create --timeframe monthly --month 12 --text "Close the year"
  strata item create --timeframe daily --date 2025-03-09 --status in_progress`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := parseTimeframe(timeframe)
			if err != nil {
				return err
			}

			db, engine, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			key, err := pos.key(cmd, tf, engine.ReferenceYear())
			if err != nil {
				return err
			}
			req := types.CreateItemRequest{
				Timeframe:     timeframe,
				CategoryIndex: category,
				PositionKey:   &key,
				Text:          text,
				Status:        status,
			}
			if errs := validation.ValidateCreateItemRequest(req); len(errs) > 0 {
				return validationError(errs)
			}

			ctx := context.Background()
			item, err := db.CreateItem(ctx, opts.orgID, types.NewItem{
				Timeframe:     tf,
				CategoryIndex: category,
				PositionKey:   &key,
				Text:          text,
				Status:        status,
			})
			if err != nil {
				return err
			}
			chain, err := db.GetChain(ctx, opts.orgID, item.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, types.ChainResponse{Item: *item, Chain: chain})
			}
			fmt.Fprintf(out, "Created %s item %s (%d in chain)\n", item.Timeframe, item.ID, len(chain))
			return writeChainTable(out, chain)
		},
	}

	f := cmd.Flags()
	f.StringVar(&timeframe, "timeframe", "", "Timeframe: yearly, monthly, weekly, or daily")
	f.IntVar(&category, "category", 0, "Category row index")
	f.StringVar(&text, "text", "", "Goal text")
	f.StringVar(&status, "status", "", "Status (default neutral)")
	pos.register(cmd)
	_ = cmd.MarkFlagRequired("timeframe")

	return cmd
}

func newItemShowCmd(opts *localOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			item, err := db.GetItem(context.Background(), opts.orgID, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, item)
			}
			writeItem(out, item)
			return nil
		},
	}
}

func writeItem(out io.Writer, item *types.Item) {
	key, _ := item.PositionKey()
	fmt.Fprintf(out, "Item:       %s\n", item.ID)
	fmt.Fprintf(out, "Timeframe:  %s\n", item.Timeframe)
	fmt.Fprintf(out, "Position:   %s (%d)\n", describePosition(item.Timeframe, key), key)
	fmt.Fprintf(out, "Category:   %d\n", item.CategoryIndex)
	fmt.Fprintf(out, "Status:     %s\n", item.Status)
	if item.Text != "" {
		fmt.Fprintf(out, "Text:       %s\n", item.Text)
	}
	if item.IsCascaded {
		fmt.Fprintf(out, "Cascaded:   level %d from %s\n", item.CascadeLevel, *item.ParentItemID)
	} else {
		fmt.Fprintln(out, "Cascaded:   no (root)")
	}
	fmt.Fprintf(out, "Created:    %s (%s)\n", item.CreatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(item.CreatedAt))
	fmt.Fprintf(out, "Updated:    %s (%s)\n", item.UpdatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(item.UpdatedAt))
}

func newItemChainCmd(opts *localOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chain <item-id>",
		Short: "Show the cascade chain an item belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			item, err := db.GetItem(ctx, opts.orgID, args[0])
			if err != nil {
				return err
			}
			chain, err := db.GetChain(ctx, opts.orgID, item.ID)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), types.ChainResponse{Item: *item, Chain: chain})
			}
			return writeChainTable(cmd.OutOrStdout(), chain)
		},
	}
}

func newItemListCmd(opts *localOptions) *cobra.Command {
	var (
		timeframe string
		category  int
		rootsOnly bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := types.ItemFilter{RootsOnly: rootsOnly, Limit: limit}
			if timeframe != "" {
				tf, err := parseTimeframe(timeframe)
				if err != nil {
					return err
				}
				filter.Timeframe = tf
			}
			if cmd.Flags().Changed("category") {
				filter.CategoryIndex = &category
			}

			db, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			items, err := db.ListItems(context.Background(), opts.orgID, filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, types.ItemListResponse{Items: items})
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No items found.")
				return nil
			}

			tw := newTabWriter(out)
			fmt.Fprintln(tw, "ID\tTIMEFRAME\tPOSITION\tSTATUS\tROOT\tUPDATED\tTEXT")
			for _, it := range items {
				key, _ := it.PositionKey()
				root := "yes"
				if it.IsCascaded {
					root = "no"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					it.ID, it.Timeframe, describePosition(it.Timeframe, key), it.Status,
					root, humanize.Time(it.UpdatedAt), truncate(it.Text, 40))
			}
			return tw.Flush()
		},
	}

	f := cmd.Flags()
	f.StringVar(&timeframe, "timeframe", "", "Only items of this timeframe")
	f.IntVar(&category, "category", 0, "Only items in this category row")
	f.BoolVar(&rootsOnly, "roots-only", false, "Only items created by a user")
	f.IntVar(&limit, "limit", 0, "Maximum number of items (0 = no limit)")

	return cmd
}

func newItemUpdateCmd(opts *localOptions) *cobra.Command {
	var (
		text     string
		status   string
		category int
		pos      positionFlags
	)

	cmd := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Change a root item and propagate the change down its chain",
		Long: "Change a root item. Text, status, and category are copied to every cascaded item; " +
			"moving the item rebuilds its chain from the new position. Cascaded items cannot be updated.",
		Example: `  strata item update 01J... --status done
  strata item update 01J... --week 12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, engine, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			current, err := db.GetItem(ctx, opts.orgID, args[0])
			if err != nil {
				return err
			}

			var req types.UpdateItemRequest
			if cmd.Flags().Changed("text") {
				req.Text = &text
			}
			if cmd.Flags().Changed("status") {
				req.Status = &status
			}
			if cmd.Flags().Changed("category") {
				req.CategoryIndex = &category
			}
			if pos.set(cmd) {
				key, err := pos.key(cmd, current.Timeframe, currentYear(current, engine))
				if err != nil {
					return err
				}
				req.PositionKey = &key
			}
			if errs := validation.ValidateUpdateItemRequest(current.Timeframe, req); len(errs) > 0 {
				return validationError(errs)
			}

			updated, err := db.UpdateItem(ctx, opts.orgID, current.ID, types.ItemUpdate{
				Text:          req.Text,
				Status:        req.Status,
				CategoryIndex: req.CategoryIndex,
				PositionKey:   req.PositionKey,
			})
			if err != nil {
				return err
			}
			chain, err := db.GetChain(ctx, opts.orgID, updated.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, types.ChainResponse{Item: *updated, Chain: chain})
			}
			fmt.Fprintf(out, "Updated item %s (%d in chain)\n", updated.ID, len(chain))
			return writeChainTable(out, chain)
		},
	}

	f := cmd.Flags()
	f.StringVar(&text, "text", "", "New goal text")
	f.StringVar(&status, "status", "", "New status")
	f.IntVar(&category, "category", 0, "New category row index")
	pos.register(cmd)

	return cmd
}

// currentYear is the year a monthly item sits in, so --month alone keeps it
// in its year. Other timeframes fall back to the reference year.
func currentYear(item *types.Item, engine *cascade.Engine) int {
	if item.Timeframe == types.TimeframeMonthly && item.MonthColIndex != nil {
		year, _ := calendar.DecodeMonthColIndex(*item.MonthColIndex)
		return year
	}
	return engine.ReferenceYear()
}

func newItemDeleteCmd(opts *localOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Delete a root item and its whole chain",
		Long:  "Permanently delete a root item together with every item it cascaded into. Requires --force or interactive confirmation.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			item, err := db.GetItem(ctx, opts.orgID, args[0])
			if err != nil {
				return err
			}
			chain, err := db.GetChain(ctx, opts.orgID, item.ID)
			if err != nil {
				return err
			}
			if item.IsCascaded {
				return fmt.Errorf("item %s was created by the cascade; delete its root %s instead", item.ID, chain[0].ID)
			}

			// Interactive confirmation unless --force
			if !force {
				errOut := cmd.ErrOrStderr()
				fmt.Fprintf(errOut, "WARNING: This will permanently delete item %s and %d cascaded item(s).\n", item.ID, len(chain)-1)
				fmt.Fprint(errOut, "Type the item ID to confirm: ")

				reader := bufio.NewReader(cmd.InOrStdin())
				input, err := reader.ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("failed to read confirmation: %w", err)
				}
				if strings.TrimSpace(input) != item.ID {
					fmt.Fprintln(errOut, "Aborted. Item ID did not match.")
					return nil
				}
			}

			if err := db.DeleteItem(ctx, opts.orgID, item.ID); err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"id":      item.ID,
					"deleted": len(chain),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted item %s and %d cascaded item(s)\n", item.ID, len(chain)-1)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}
