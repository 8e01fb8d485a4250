// Record-level commands: insert, query, update, delete.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cartondb/carton"
)

var (
	insertFromStdin bool

	insertCmd = &cobra.Command{
		Use:   "insert <container> [record-json]",
		Short: "Insert one or more JSON records",
		Long: `Insert stores records given as JSON objects, either as an
argument or one per line on stdin with --stdin. Multiple stdin records
are inserted all-or-nothing in one transaction.

Example:
  cartonctl insert users '{"email":"ada@example.com","name":"ada"}'
  cat users.jsonl | cartonctl insert users --stdin`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, release, err := openDB()
			if err != nil {
				return err
			}
			defer release()
			ctx := context.Background()

			if insertFromStdin {
				recs, err := readRecords(os.Stdin)
				if err != nil {
					return err
				}
				if err := db.InsertMany(ctx, args[0], recs); err != nil {
					return err
				}
				confirmf("%d records inserted into %q", len(recs), args[0])
				return nil
			}

			if len(args) < 2 {
				return fmt.Errorf("record JSON required unless --stdin is given")
			}
			var rec carton.Record
			if err := json.Unmarshal([]byte(args[1]), &rec); err != nil {
				return fmt.Errorf("parsing record: %w", err)
			}
			key, err := db.Insert(ctx, args[0], rec)
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
)

var (
	getFields string

	getCmd = &cobra.Command{
		Use:   "get <container> <index> <value>",
		Short: "Select a record by index value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, release, err := openDB()
			if err != nil {
				return err
			}
			defer release()
			rec, err := db.SelectByIndex(context.Background(), args[0], args[1], parseValue(args[2]), splitFields(getFields))
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Println("null")
				return nil
			}
			return printJSON(rec)
		},
	}

	listFields string

	listCmd = &cobra.Command{
		Use:   "list <container>",
		Short: "List every record in a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, release, err := openDB()
			if err != nil {
				return err
			}
			defer release()
			recs, err := db.SelectAll(context.Background(), args[0], splitFields(listFields))
			if err != nil {
				return err
			}
			return printJSON(recs)
		},
	}
)

var (
	updateKeepField bool
	updateSets      []string

	updateCmd = &cobra.Command{
		Use:   "update <container> <index> <current-value> <new-value>",
		Short: "Update every record whose index field matches",
		Long: `Update scans the whole container and rewrites each record whose
index field equals the current value. --set fields apply only to fields
already present on a matched record.

Example:
  cartonctl update items state open done --set owner=ada`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var others []carton.FieldUpdate
			for _, s := range updateSets {
				name, value, ok := strings.Cut(s, "=")
				if !ok {
					return fmt.Errorf("bad --set %q: want field=value", s)
				}
				others = append(others, carton.FieldUpdate{Name: name, Value: parseValue(value)})
			}
			db, release, err := openDB()
			if err != nil {
				return err
			}
			defer release()
			updated, err := db.UpdateByIndex(context.Background(), args[0], args[1],
				parseValue(args[2]), parseValue(args[3]), !updateKeepField, others)
			if err != nil {
				return err
			}
			confirmf("%d records updated", updated)
			return nil
		},
	}
)

var (
	deleteAllMatches bool

	deleteCmd = &cobra.Command{
		Use:   "delete <container> <index> <value>",
		Short: "Delete records by index value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, release, err := openDB()
			if err != nil {
				return err
			}
			defer release()
			deleted, err := db.DeleteByIndex(context.Background(), args[0], args[1],
				parseValue(args[2]), deleteAllMatches)
			if err != nil {
				return err
			}
			confirmf("%d records deleted", deleted)
			return nil
		},
	}
)

var clearCmd = &cobra.Command{
	Use:   "clear <container>",
	Short: "Delete every record, keeping the container and its indexes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, release, err := openDB()
		if err != nil {
			return err
		}
		defer release()
		if err := db.DeleteAll(context.Background(), args[0]); err != nil {
			return err
		}
		confirmf("container %q cleared", args[0])
		return nil
	},
}

func init() {
	insertCmd.Flags().BoolVar(&insertFromStdin, "stdin", false, "read records from stdin, one JSON object per line")
	getCmd.Flags().StringVar(&getFields, "fields", "", "comma-separated field projection")
	listCmd.Flags().StringVar(&listFields, "fields", "", "comma-separated field projection")
	updateCmd.Flags().BoolVar(&updateKeepField, "keep-index-field", false, "match only, do not overwrite the matched field")
	updateCmd.Flags().StringArrayVar(&updateSets, "set", nil, "additional field=value update (repeatable)")
	deleteCmd.Flags().BoolVar(&deleteAllMatches, "all", false, "delete every match instead of the first")
}

func splitFields(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func readRecords(r io.Reader) ([]carton.Record, error) {
	dec := json.NewDecoder(r)
	var recs []carton.Record
	for {
		var rec carton.Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("parsing record %d: %w", len(recs)+1, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
