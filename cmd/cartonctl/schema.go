// Database and container lifecycle commands.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cartondb/carton"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database if needed and print its version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, release, err := openDB()
		if err != nil {
			return err
		}
		defer release()
		version, err := db.Initialize(context.Background())
		if err != nil {
			return err
		}
		confirmf("database %q ready at version %d", db.Name(), version)
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete the whole database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, release, err := openDB()
		if err != nil {
			return err
		}
		defer release()
		if err := db.DeleteDatabase(context.Background()); err != nil {
			return err
		}
		confirmf("database %q deleted", db.Name())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current database version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, release, err := openDB()
		if err != nil {
			return err
		}
		defer release()
		version, err := db.Version(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil
	},
}

var lastModifiedCmd = &cobra.Command{
	Use:   "last-modified",
	Short: "Print the timestamp of the last structural change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, release, err := openDB()
		if err != nil {
			return err
		}
		defer release()
		ts, ok, err := db.LastModified(context.Background())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("never")
			return nil
		}
		fmt.Println(ts)
		return nil
	},
}

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage containers and their indexes",
}

var (
	createIndexSpecs []string

	containerCreateCmd = &cobra.Command{
		Use:   "create <name>",
		Short: "Create a container with optional indexes",
		Long: `Create declares a container inside a version-bump transaction.

Indexes are given as name or name:unique.

Example:
  cartonctl container create users --index email:unique --index team`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := parseIndexSpecs(createIndexSpecs)
			if err != nil {
				return err
			}
			db, release, err := openDB()
			if err != nil {
				return err
			}
			defer release()
			status, err := db.CreateContainer(context.Background(), args[0], specs)
			if err != nil {
				return err
			}
			confirmf("container %q: %s", args[0], status)
			return nil
		},
	}

	containerDeleteCmd = &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a container and all its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, release, err := openDB()
			if err != nil {
				return err
			}
			defer release()
			if err := db.DeleteContainer(context.Background(), args[0]); err != nil {
				return err
			}
			confirmf("container %q deleted", args[0])
			return nil
		},
	}

	alterAdd     []string
	alterRemove  []string
	alterRenames []string

	containerAlterCmd = &cobra.Command{
		Use:   "alter <name>",
		Short: "Add, remove and rename indexes on a container",
		Long: `Alter applies index changes inside a single version-bump
transaction. Renaming an index rewrites every record in place.

Example:
  cartonctl container alter users --add age --remove team --rename email=mail:unique`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			add, err := parseIndexSpecs(alterAdd)
			if err != nil {
				return err
			}
			renames, err := parseRenames(alterRenames)
			if err != nil {
				return err
			}
			db, release, err := openDB()
			if err != nil {
				return err
			}
			defer release()
			err = db.UpdateContainerStructure(context.Background(), args[0], add, alterRemove, renames)
			if err != nil {
				return err
			}
			confirmf("container %q updated", args[0])
			return nil
		},
	}
)

var indexesCmd = &cobra.Command{
	Use:   "indexes <container> [name...]",
	Short: "Report whether the named indexes exist",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, release, err := openDB()
		if err != nil {
			return err
		}
		defer release()
		exists, err := db.IndexesExist(context.Background(), args[0], args[1:])
		if err != nil {
			return err
		}
		for i, name := range args[1:] {
			fmt.Printf("%s\t%v\n", name, exists[i])
		}
		return nil
	},
}

func init() {
	containerCreateCmd.Flags().StringArrayVar(&createIndexSpecs, "index", nil, "index spec, name or name:unique (repeatable)")
	containerAlterCmd.Flags().StringArrayVar(&alterAdd, "add", nil, "index to add, name or name:unique (repeatable)")
	containerAlterCmd.Flags().StringArrayVar(&alterRemove, "remove", nil, "index to remove (repeatable)")
	containerAlterCmd.Flags().StringArrayVar(&alterRenames, "rename", nil, "index rename, old=new or old=new:unique (repeatable)")

	containerCmd.AddCommand(containerCreateCmd)
	containerCmd.AddCommand(containerDeleteCmd)
	containerCmd.AddCommand(containerAlterCmd)
}

func parseIndexSpecs(raw []string) ([]carton.IndexSpec, error) {
	specs := make([]carton.IndexSpec, 0, len(raw))
	for _, s := range raw {
		name, opt, _ := strings.Cut(s, ":")
		spec := carton.IndexSpec{Name: name}
		switch opt {
		case "":
		case "unique":
			spec.Unique = true
		default:
			return nil, fmt.Errorf("bad index spec %q: unknown option %q", s, opt)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parseRenames(raw []string) ([]carton.RenameRule, error) {
	rules := make([]carton.RenameRule, 0, len(raw))
	for _, s := range raw {
		oldName, rest, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("bad rename %q: want old=new or old=new:unique", s)
		}
		newName, opt, _ := strings.Cut(rest, ":")
		rule := carton.RenameRule{OldName: oldName, NewName: newName}
		switch opt {
		case "":
		case "unique":
			rule.Unique = true
		default:
			return nil, fmt.Errorf("bad rename %q: unknown option %q", s, opt)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
