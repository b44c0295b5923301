package main

import (
	"context"
	"fmt"
	"time"

	"github.com/siherrmann/knowledge/database"
	"github.com/spf13/cobra"
)

var (
	indexType           string
	indexM              int
	indexEfConstruction int
	indexLists          int
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the vector index of the knowledge entries",
		Long: `Drop and recreate the embedding index with the given type.

Examples:
  knowledge index --type hnsw --m 32 --ef-construction 128
  knowledge index --type ivfflat --lists 200`,
		Args: cobra.NoArgs,
		RunE: runIndex,
	}

	cmd.Flags().StringVar(&indexType, "type", database.IndexTypeHNSW, "index type (hnsw, ivfflat)")
	cmd.Flags().IntVar(&indexM, "m", 0, "hnsw: max connections per layer (default 16)")
	cmd.Flags().IntVar(&indexEfConstruction, "ef-construction", 0, "hnsw: candidate list size while building (default 64)")
	cmd.Flags().IntVar(&indexLists, "lists", 0, "ivfflat: number of lists (default 100)")

	return cmd
}

// indexParams maps the flags of the chosen index type, unset flags keep the
// database defaults.
func indexParams() (map[string]interface{}, error) {
	params := map[string]interface{}{}
	set := func(key string, value int) error {
		if value < 0 {
			return fmt.Errorf("--%s must not be negative", key)
		}
		if value > 0 {
			params[key] = value
		}
		return nil
	}

	switch indexType {
	case database.IndexTypeHNSW:
		if indexLists != 0 {
			return nil, fmt.Errorf("--lists only applies to ivfflat")
		}
		if err := set("m", indexM); err != nil {
			return nil, err
		}
		if err := set("ef_construction", indexEfConstruction); err != nil {
			return nil, err
		}
	case database.IndexTypeIVFFlat:
		if indexM != 0 || indexEfConstruction != 0 {
			return nil, fmt.Errorf("--m and --ef-construction only apply to hnsw")
		}
		if err := set("lists", indexLists); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown index type %q, expected hnsw or ivfflat", indexType)
	}
	return params, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	params, err := indexParams()
	if err != nil {
		return err
	}

	// Rebuilding the index never embeds.
	noEmbedder = true
	k, _, err := open()
	if err != nil {
		return err
	}
	defer k.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	if err := k.ChangeIndexType(ctx, indexType, params); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %s index\n", indexType)
	return nil
}
