package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/celerix-dev/carbon-ledger/internal/storage"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Read and write raw documents in the configured store",
}

var docListCmd = &cobra.Command{
	Use:   "list <collection> [<field> <json-value>]",
	Short: "List the documents of a collection",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 2 {
			return eris.New("a filter needs both a field and a value")
		}
		var filter *sdk.Filter
		if len(args) == 3 {
			filter = &sdk.Filter{Field: args[1], Value: parseValue(args[2])}
		}
		return withStore(cmd, func(store sdk.DocumentStore) error {
			list, err := store.List(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}
			return printJSON(list)
		})
	},
}

var docGetCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Print one document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store sdk.DocumentStore) error {
			doc, err := store.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(doc)
		})
	},
}

var docCreateCmd = &cobra.Command{
	Use:   "create <collection> <json>",
	Short: "Create a document and print its id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := parseDocument(args[1])
		if err != nil {
			return err
		}
		return withStore(cmd, func(store sdk.DocumentStore) error {
			id, err := store.Create(cmd.Context(), args[0], doc)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

var docUpdateCmd = &cobra.Command{
	Use:   "update <collection> <id> <json>",
	Short: "Merge fields into a document",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := parseDocument(args[2])
		if err != nil {
			return err
		}
		return withStore(cmd, func(store sdk.DocumentStore) error {
			if err := store.Update(cmd.Context(), args[0], args[1], patch); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		})
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store sdk.DocumentStore) error {
			if err := store.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		})
	},
}

func withStore(cmd *cobra.Command, fn func(sdk.DocumentStore) error) error {
	store, err := storage.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func parseDocument(s string) (sdk.Document, error) {
	var doc sdk.Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, eris.Wrap(err, "document must be a JSON object")
	}
	return doc, nil
}

// parseValue reads a filter value as JSON, falling back to a plain string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	docCmd.AddCommand(docListCmd, docGetCmd, docCreateCmd, docUpdateCmd, docDeleteCmd)
	rootCmd.AddCommand(docCmd)
}
