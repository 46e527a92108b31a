package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"grocery_list/internal/app"
	"grocery_list/internal/config"
	"grocery_list/internal/coordinator"
	"grocery_list/internal/grocery"
	"grocery_list/internal/imagehost"
	"grocery_list/internal/search"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	exitError  = 1
	exitConfig = 2
)

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "groceries",
		Short:         "Shared grocery list backed by a Google Sheet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (yaml, json or toml)")

	// run loads the config and wires the app for a single command.
	run := func(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a)
	}

	root.AddCommand(
		newListCmd(run),
		newSearchCmd(run),
		newAddCmd(run),
		newUpdateCmd(run),
		newDeleteCmd(run),
		newReloadCmd(run),
		newUploadCmd(run),
	)
	return root
}

type runner func(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error

func newListCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show every item, from the cache when available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				if err := loadList(ctx, a); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				items := a.Groceries.Items()
				printItems(out, items)

				footer := fmt.Sprintf("%d item(s)", len(items))
				if savedAt, ok, err := a.Cache.SavedAt(); err == nil && ok {
					footer += ", cached " + savedAt.Format(time.DateTime)
				}
				fmt.Fprintln(out, footer)
				return nil
			})
		},
	}
}

func newSearchCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find items by name; queries shorter than two characters list everything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return run(cmd, func(ctx context.Context, a *app.App) error {
				if err := loadList(ctx, a); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				results := a.Groceries.Search(query)

				if search.Active(query) && len(results) == 0 {
					fmt.Fprintf(out, "No items match %q\n", query)
					return nil
				}
				printItems(out, results)
				if search.Active(query) {
					fmt.Fprintf(out, "%d result(s)\n", len(results))
				}
				return nil
			})
		},
	}
}

type itemFlags struct {
	name     string
	price    string
	image    string
	imageURL string
}

func (f *itemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "item name")
	cmd.Flags().StringVar(&f.price, "price", "", "item price")
	cmd.Flags().StringVar(&f.image, "image", "", "path to an image to compress and upload")
	cmd.Flags().StringVar(&f.imageURL, "image-url", "", "use an already hosted image")
	cmd.MarkFlagsMutuallyExclusive("image", "image-url")
}

// resolveImage returns the image URL for the item, uploading --image first
// when given. ok is false when neither image flag was set.
func (f *itemFlags) resolveImage(ctx context.Context, cmd *cobra.Command, a *app.App) (string, bool, error) {
	switch {
	case f.image != "":
		url, err := uploadImage(ctx, cmd, a, f.image)
		return url, true, err
	case cmd.Flags().Changed("image-url"):
		return strings.TrimSpace(f.imageURL), true, nil
	default:
		return "", false, nil
	}
}

func newAddCmd(run runner) *cobra.Command {
	var flags itemFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			item := grocery.Item{Name: strings.TrimSpace(flags.name), Price: strings.TrimSpace(flags.price)}
			if err := item.Validate(); err != nil {
				return fmt.Errorf("please fill in at least the name and price: %w", err)
			}
			return run(cmd, func(ctx context.Context, a *app.App) error {
				if err := loadList(ctx, a); err != nil {
					return err
				}
				url, _, err := flags.resolveImage(ctx, cmd, a)
				if err != nil {
					return err
				}
				item.ImageURL = url

				added, err := a.Groceries.Add(ctx, item)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", added.Name, added.ID)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newUpdateCmd(run runner) *cobra.Command {
	var flags itemFlags
	var clearImage bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an item's name, price or image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				if err := loadList(ctx, a); err != nil {
					return err
				}
				item, err := findItem(a.Groceries.Items(), args[0])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("name") {
					item.Name = strings.TrimSpace(flags.name)
				}
				if cmd.Flags().Changed("price") {
					item.Price = strings.TrimSpace(flags.price)
				}
				if clearImage {
					item.ImageURL = ""
				}
				// validate before any upload so a bad price costs nothing
				if err := item.Validate(); err != nil {
					return err
				}
				if url, ok, err := flags.resolveImage(ctx, cmd, a); err != nil {
					return err
				} else if ok {
					item.ImageURL = url
				}

				if err := a.Groceries.Update(ctx, item); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", item.ID)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&clearImage, "remove-image", false, "remove the item's image")
	cmd.MarkFlagsMutuallyExclusive("remove-image", "image")
	cmd.MarkFlagsMutuallyExclusive("remove-image", "image-url")
	return cmd
}

func newDeleteCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				if err := loadList(ctx, a); err != nil {
					return err
				}
				if err := a.Groceries.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newReloadCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Fetch the list from the remote store, replacing the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Groceries.Reload(ctx); err != nil {
					return &loadError{err: err}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d item(s)\n", len(a.Groceries.Items()))
				return nil
			})
		},
	}
}

func newUploadCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <path>",
		Short: "Compress and upload an image, printing its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				url, err := uploadImage(ctx, cmd, a, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}
}

func uploadImage(ctx context.Context, cmd *cobra.Command, a *app.App, path string) (string, error) {
	f, err := imagehost.FileFromPath(path)
	if err != nil {
		return "", err
	}
	progress := cmd.ErrOrStderr()
	return a.Images.Process(ctx, f, func(s imagehost.Stage) {
		fmt.Fprintln(progress, s)
	})
}

// loadError marks a failed initial fetch so it can be reported with a retry hint.
type loadError struct {
	err error
}

func (e *loadError) Error() string { return e.err.Error() }
func (e *loadError) Unwrap() error { return e.err }

func loadList(ctx context.Context, a *app.App) error {
	fromCache, err := a.Groceries.Load(ctx)
	if err != nil {
		return &loadError{err: err}
	}
	log.Debug().Bool("from_cache", fromCache).Msg("Grocery list ready")
	return nil
}

func findItem(items []grocery.Item, id string) (grocery.Item, error) {
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return grocery.Item{}, fmt.Errorf("%s: %w", id, grocery.ErrNotFound)
}

func printItems(out io.Writer, items []grocery.Item) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRICE\tIMAGE")
	for _, it := range items {
		image := "-"
		if it.ImageURL != "" {
			image = it.ImageURL
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Name, it.Price, image)
	}
	w.Flush()
}

// reportError prints err the way the user should see it and returns the exit code.
func reportError(out io.Writer, err error) int {
	var mutationErr *coordinator.MutationError
	var loadErr *loadError

	switch {
	case config.IsConfigError(err):
		fmt.Fprintf(out, "Configuration error: %v\n", err)
		fmt.Fprintln(out, "Set the missing values in .env or the config file and try again.")
		return exitConfig
	case errors.As(err, &loadErr):
		fmt.Fprintf(out, "Failed to load groceries: %v\n", loadErr.err)
		fmt.Fprintln(out, "Run `groceries reload` to retry.")
		return exitError
	case errors.As(err, &mutationErr):
		fmt.Fprintln(out, mutationErr.Warning)
		fmt.Fprintf(out, "Error: %v\n", mutationErr.Err)
		return exitError
	default:
		fmt.Fprintf(out, "Error: %v\n", err)
		return exitError
	}
}
