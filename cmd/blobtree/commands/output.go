package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"

	"github.com/brettbedarf/blobtree"
)

var errAborted = errors.New("aborted")

// printTable writes rows as a borderless, left aligned table.
func printTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(rows)
	table.Render()
}

func nodeRow(node blobtree.Node) []string {
	if node.IsFolder() {
		return []string{node.Name() + blobtree.Separator, "folder", "-", "-"}
	}
	f := node.File
	modified := "-"
	if !f.ModifiedAt.IsZero() {
		modified = f.ModifiedAt.Local().Format(time.DateTime)
	}
	return []string{f.Name, "file", strconv.FormatInt(f.Size, 10), modified}
}

// printResult summarizes a delete or move and returns its error, if any
// key failed.
func printResult(w io.Writer, op string, res *blobtree.OperationResult) error {
	fmt.Fprintf(w, "%s: %d succeeded, %d failed\n", op, len(res.Succeeded), len(res.Failed))
	if res.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n", res.Warning)
	}
	if len(res.Failed) > 0 {
		rows := make([][]string, len(res.Failed))
		for i, f := range res.Failed {
			rows[i] = []string{f.Key, f.Err.Error()}
		}
		printTable(w, []string{"Failed key", "Error"}, rows)
	}
	return res.Err(op)
}

// confirm asks a yes/no question unless yes is already set. Ctrl+C
// returns errAborted.
func confirm(label string, yes bool) (bool, error) {
	if yes {
		return true, nil
	}
	prompt := promptui.Prompt{
		Label:     label + " [y/N]",
		IsConfirm: true,
	}
	result, err := prompt.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, errAborted
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case err != nil:
		return false, err
	}
	result = strings.ToLower(result)
	return result == "y" || result == "yes", nil
}
