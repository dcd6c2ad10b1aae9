package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/coco/pkg/types"
)

func newTypesCmd(a *app) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "types [name]",
		Short: "List the server's Types, or show one",
		Long: "Fetch the snapshot and list every Type with its parents, instance count\n" +
			"and dynamic properties. With a name, print that Type's full descriptor.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.openClient(cmd, nil)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := loadMirror(cmd.Context(), client, cached); err != nil {
				return fmt.Errorf("load types: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				t, ok := client.Type(args[0])
				if !ok {
					return userError("%w: %q", types.ErrUnknownType, args[0])
				}
				return writeJSON(out, t)
			}
			if a.flags.jsonMode {
				return writeJSON(out, client.Types())
			}
			return printTypes(out, client.Types())
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "use the snapshot saved by the last sync")
	return cmd
}

type itemsOptions struct {
	cached   bool
	typeName string
	where    string
	filters  []string
}

func newItemsCmd(a *app) *cobra.Command {
	var opts itemsOptions
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List Items",
		Long: `List the mirrored Items.

--type keeps instances of a Type or any of its descendants. --where takes a
boolean expression over id, type, types, properties and value, e.g.

  coco items --where 'properties.legs > 2 && value != nil'

--filter key=value is sent to the server instead and prints its raw records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runItems(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.cached, "cached", false, "use the snapshot saved by the last sync")
	cmd.Flags().StringVar(&opts.typeName, "type", "", "only instances of this Type")
	cmd.Flags().StringVar(&opts.where, "where", "", "boolean expression evaluated locally")
	cmd.Flags().StringArrayVar(&opts.filters, "filter", nil, "server-side key=value filter (repeatable)")
	return cmd
}

func (a *app) runItems(cmd *cobra.Command, opts itemsOptions) error {
	filters, err := parseFilters(opts.filters)
	if err != nil {
		return err
	}
	if len(filters) > 0 && (opts.cached || opts.where != "" || opts.typeName != "") {
		return userError("--filter cannot be combined with --cached, --type or --where")
	}

	client, err := a.openClient(cmd, nil)
	if err != nil {
		return err
	}
	defer client.Close()
	out := cmd.OutOrStdout()

	if len(filters) > 0 {
		records, err := client.FetchItems(cmd.Context(), filters)
		if err != nil {
			return fmt.Errorf("fetch items: %w", err)
		}
		return writeJSON(out, records)
	}

	if err := loadMirror(cmd.Context(), client, opts.cached); err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	expr := opts.where
	if opts.typeName != "" {
		if _, ok := client.Type(opts.typeName); !ok {
			return userError("%w: %q", types.ErrUnknownType, opts.typeName)
		}
		typeClause := strconv.Quote(opts.typeName) + " in types"
		if expr == "" {
			expr = typeClause
		} else {
			expr = typeClause + " && (" + expr + ")"
		}
	}

	items := client.Items()
	if expr != "" {
		if items, err = client.Query(expr); err != nil {
			if errors.Is(err, types.ErrInvalidQuery) {
				return userError("%w", err)
			}
			return err
		}
	}
	if a.flags.jsonMode {
		return writeJSON(out, items)
	}
	return printItems(out, items)
}

func parseFilters(args []string) (map[string]string, error) {
	filters := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, userError("invalid filter %q (expected key=value)", arg)
		}
		filters[key] = value
	}
	return filters, nil
}

// decodePayload accepts a JSON object given inline or as @file.
func decodePayload(arg string, read func(string) ([]byte, error)) (json.RawMessage, error) {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		if data, err = read(strings.TrimPrefix(arg, "@")); err != nil {
			return nil, userError("read payload: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, userError("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
