package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/brettbedarf/blobtree"
)

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List the direct children of a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pathArg(args, 0)
			if err != nil {
				return err
			}
			nodes, err := a.fs.ListChildren(cmd.Context(), p)
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				exists, err := a.fs.Exists(cmd.Context(), p)
				if err != nil {
					return err
				}
				if !exists {
					return &blobtree.NotFoundError{Path: p, Kind: blobtree.FolderKind}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "No entries.")
				return nil
			}

			rows := make([][]string, len(nodes))
			for i, node := range nodes {
				rows[i] = nodeRow(node)
			}
			printTable(cmd.OutOrStdout(), []string{"Name", "Kind", "Size", "Modified"}, rows)
			return nil
		},
	}
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show a file's or folder's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := blobtree.ParsePath(args[0])
			if err != nil {
				return err
			}
			node, err := a.fs.Stat(cmd.Context(), p)
			if err != nil {
				return err
			}

			pairs := [][]string{
				{"Path", p.String()},
				{"Kind", node.Kind.String()},
			}
			if f := node.File; f != nil {
				pairs = append(pairs,
					[]string{"Key", p.Key()},
					[]string{"Size", strconv.FormatInt(f.Size, 10)},
					[]string{"Content type", f.ContentType},
					[]string{"ID", f.ID},
					[]string{"URL", f.URL},
				)
				if !f.ModifiedAt.IsZero() {
					pairs = append(pairs, []string{"Modified", f.ModifiedAt.Local().String()})
				}
			}
			printTable(cmd.OutOrStdout(), []string{"Field", "Value"}, pairs)
			return nil
		},
	}
}

func newTreeCmd(a *app) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "List every file and folder below a folder, breadth first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pathArg(args, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			var files, folders int
			err = a.fs.Walk(cmd.Context(), p, func(node blobtree.Node) error {
				rel, err := node.Path().Rel(p)
				if err != nil {
					return err
				}
				if node.IsFile() {
					files++
					fmt.Fprintln(out, rel)
					return nil
				}
				folders++
				fmt.Fprintln(out, rel+blobtree.Separator)
				if depth > 0 && node.Path().Depth()-p.Depth() >= depth {
					return blobtree.SkipFolder
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d folders, %d files\n", folders, files)
			return nil
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "L", 0, "descend at most this many levels (0 for no limit)")
	return cmd
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a file's content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := blobtree.ParsePath(args[0])
			if err != nil {
				return err
			}
			data, err := a.fs.ReadFile(cmd.Context(), p)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
