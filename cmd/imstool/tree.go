package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-imaris/hdf5"
)

var treeCmd = &cobra.Command{
	Use:   "tree <file>",
	Short: "Print the HDF5 group tree of an Imaris file",
	Long: `Print every group and dataset of an HDF5 file with its attributes.
Datasets show their shape, type, storage layout and filters.`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

func init() {
	f := treeCmd.Flags()
	f.Bool("attrs", true, "print attribute values")
	f.Int("depth", 0, "maximum depth to descend, 0 for no limit")
}

func runTree(cmd *cobra.Command, args []string) error {
	f, err := hdf5.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	showAttrs, _ := cmd.Flags().GetBool("attrs")
	maxDepth, _ := cmd.Flags().GetInt("depth")
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s (superblock v%d)\n", args[0], f.Version())

	return hdf5.Walk(f.Root(), func(p string, obj hdf5.Object, err error) error {
		depth := len(hdf5.SplitPath(p))
		indent := strings.Repeat("  ", depth)
		if err != nil {
			fmt.Fprintf(w, "%s%s: error: %v\n", indent, p, err)
			return nil
		}
		switch o := obj.(type) {
		case *hdf5.Group:
			fmt.Fprintf(w, "%s%s/\n", indent, groupName(o))
		case *hdf5.Dataset:
			fmt.Fprintf(w, "%s%s %s %v %s", indent, o.Name(), o.DtypeString(), o.Shape(), o.Storage())
			if c := o.Chunks(); c != nil {
				fmt.Fprintf(w, " chunks=%v", c)
			}
			if fl := o.Filters(); len(fl) > 0 {
				fmt.Fprintf(w, " filters=%s", strings.Join(fl, ","))
			}
			fmt.Fprintln(w)
		}
		if showAttrs {
			printAttrs(w, indent+"  ", obj)
		}
		if _, ok := obj.(*hdf5.Group); ok && maxDepth > 0 && depth >= maxDepth {
			return hdf5.SkipGroup
		}
		return nil
	})
}

func groupName(g *hdf5.Group) string {
	if g.Path() == "/" {
		return ""
	}
	return g.Name()
}

func printAttrs(w io.Writer, indent string, obj hdf5.Object) {
	for _, name := range obj.Attrs() {
		a := obj.Attr(name)
		if a == nil {
			continue
		}
		val, err := a.Value()
		if err != nil {
			fmt.Fprintf(w, "%s@%s: %v\n", indent, name, err)
			continue
		}
		fmt.Fprintf(w, "%s@%s = %v\n", indent, name, val)
	}
}
