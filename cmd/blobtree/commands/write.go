package commands

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/requests"
)

func newMkdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create an empty folder",
		Long: `Create an empty folder by storing its placeholder blob. The parent does
not need to exist. Fails if anything already exists at the path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := blobtree.ParsePath(args[0])
			if err != nil {
				return err
			}
			return a.fs.CreateFolder(cmd.Context(), p)
		},
	}
}

func newPutCmd(a *app) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "put <local-file> <path>",
		Short: "Upload a local file; use - to read stdin",
		Long: `Upload a local file to a path that is not yet taken. Existing files are
never overwritten. The content type is guessed from the extension unless
--content-type is set.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := blobtree.ParsePath(args[1])
			if err != nil {
				return err
			}

			var data []byte
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(p.Name()))
			}
			if contentType == "" {
				contentType = requests.DefaultContentType
			}
			return a.fs.UploadFile(cmd.Context(), p, data, contentType)
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type to store with the file")
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	var recursive, yes bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file, or a folder with -r",
		Long: `Delete a file, or with -r a folder and everything below it. Keys that
could not be deleted are listed; running the command again retries them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := blobtree.ParsePath(args[0])
			if err != nil {
				return err
			}
			node, err := a.fs.Stat(ctx, p)
			if err != nil {
				return err
			}

			var res *blobtree.OperationResult
			if node.IsFile() {
				res, err = a.fs.DeleteFile(ctx, p)
			} else {
				if !recursive {
					return fmt.Errorf("%s is a folder; use -r to delete it", p)
				}
				var ok bool
				if ok, err = confirm(fmt.Sprintf("Delete %s and everything below it", p), yes); err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
				res, err = a.fs.DeleteFolder(ctx, p)
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), "delete", res)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete folders and their contents")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newMvCmd(a *app) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "mv <src> <dest>",
		Short: "Move a file or folder to a path that is not taken",
		Long: `Move a file or folder. Folder moves copy every key below the source and
delete the originals, unless the store can rename natively. Keys that could
not be moved are listed and stay at the source.

After a partial folder move, --resume moves the remaining keys into the
existing destination.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := blobtree.ParsePath(args[0])
			if err != nil {
				return err
			}
			dest, err := blobtree.ParsePath(args[1])
			if err != nil {
				return err
			}

			var res *blobtree.OperationResult
			if resume {
				res, err = a.fs.ResumeFolderMove(ctx, src, dest)
			} else {
				var node blobtree.Node
				if node, err = a.fs.Stat(ctx, src); err != nil {
					return err
				}
				if node.IsFile() {
					res, err = a.fs.MoveFile(ctx, src, dest)
				} else {
					res, err = a.fs.MoveFolder(ctx, src, dest)
				}
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), "move", res)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "continue a partially completed folder move")
	return cmd
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "Rename a file or folder within its parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := blobtree.ParsePath(args[0])
			if err != nil {
				return err
			}
			res, err := a.fs.RenameItem(cmd.Context(), p, args[1])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), "rename", res)
		},
	}
}

func newApplyCmd(a *app) *cobra.Command {
	var continueOnError bool
	cmd := &cobra.Command{
		Use:   "apply <manifest>",
		Short: "Run the operations listed in a YAML or JSON manifest",
		Long: `Run the operations of a manifest in order. Supported ops are mkdir, put,
rm, mv and rename:

  ops:
    - op: mkdir
      path: projects/2024
    - op: mv
      src: drafts
      dest: projects/2024/drafts
    - op: rm
      path: tmp
      recursive: true

The manifest is validated completely before the first operation runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := requests.LoadManifestFile(args[0])
			if err != nil {
				return err
			}
			outcomes, err := requests.Apply(cmd.Context(), a.fs, ops, requests.ApplyOptions{ContinueOnError: continueOnError})

			rows := make([][]string, len(outcomes))
			for i, o := range outcomes {
				status := "ok"
				switch {
				case o.Err != nil:
					status = o.Err.Error()
				case o.Result != nil && o.Result.Warning != "":
					status = o.Result.Warning
				}
				rows[i] = []string{fmt.Sprint(i), o.Op.String(), status}
			}
			printTable(cmd.OutOrStdout(), []string{"#", "Operation", "Status"}, rows)
			if skipped := len(ops) - len(outcomes); skipped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d operations not run\n", skipped)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "run the remaining operations after a failure")
	return cmd
}
