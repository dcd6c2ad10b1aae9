package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/mesh-intelligence/coco/pkg/types"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return sysError("encode output: %w", err)
	}
	return nil
}

func printTypes(w io.Writer, ts []*types.Type) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPARENTS\tINSTANCES\tDYNAMIC")
	for _, t := range ts {
		dynamic := slices.Sorted(maps.Keys(t.EffectiveDynamicProperties()))
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			t.Name, orDash(strings.Join(t.ParentNames(), ",")), len(t.Instances()), orDash(strings.Join(dynamic, ",")))
	}
	return tw.Flush()
}

func printItems(w io.Writer, items []*types.Item) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tVALUE")
	for _, item := range items {
		value := "-"
		if v, ok := item.Value(); ok {
			value = string(v.Data)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.ID, item.Type.Name, value)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
