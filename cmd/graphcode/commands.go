package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/WessleyAI/safety-workbench/engine/graph"
	"github.com/WessleyAI/safety-workbench/engine/graphcode"
	"github.com/WessleyAI/safety-workbench/pkg/config"
	"github.com/spf13/cobra"
)

// codeService is the part of *graphcode.Service the commands drive.
type codeService interface {
	ExportJSON(ctx context.Context, w io.Writer) (graphcode.Manifest, error)
	ExportDir(ctx context.Context, root string) (graphcode.Manifest, error)
	ExportArchive(ctx context.Context, w io.Writer) (graphcode.Manifest, error)
	ImportJSON(ctx context.Context, r io.Reader, strict bool) (graphcode.Report, error)
	ImportDir(ctx context.Context, root string, strict bool) (graphcode.Report, error)
	ImportArchive(ctx context.Context, r io.Reader, strict bool) (graphcode.Report, error)
	VerifyJSON(ctx context.Context, r io.Reader, strict bool) (graphcode.Report, error)
	VerifyDir(ctx context.Context, root string, strict bool) (graphcode.Report, error)
	VerifyArchive(ctx context.Context, r io.Reader, strict bool) (graphcode.Report, error)
}

type statsSource interface {
	Stats(ctx context.Context) (graph.Stats, error)
}

type backend struct {
	code  codeService
	stats statsSource
	close func(context.Context) error
}

type connectFunc func(ctx context.Context, cfg config.Config) (*backend, error)

var errNotConfirmed = errors.New("import replaces the whole database; pass --yes to confirm")

// stdio stands for stdin or stdout in --json and --archive.
const stdio = "-"

type cli struct {
	connect    connectFunc
	configFile string
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
}

// location is where a snapshot lives. Exactly one field is set.
type location struct {
	dir     string
	json    string
	archive string
}

func (l *location) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&l.dir, "dir", "", "Snapshot directory tree")
	cmd.Flags().StringVar(&l.json, "json", "", "Single JSON document (- for stdio)")
	cmd.Flags().StringVar(&l.archive, "archive", "", "tar+zstd archive (- for stdio)")
	cmd.MarkFlagsOneRequired("dir", "json", "archive")
	cmd.MarkFlagsMutuallyExclusive("dir", "json", "archive")
}

func (l *location) String() string {
	switch {
	case l.dir != "":
		return l.dir
	case l.json != "":
		return l.json
	default:
		return l.archive
	}
}

func newRootCmd(connect connectFunc, in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{connect: connect, in: in, out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "graphcode",
		Short:         "Keep the safety graph as code",
		Long:          "Export the safety graph to reviewable files and restore it from them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&c.configFile, "config", os.Getenv("SAFETY_CONFIG"), "Config file (YAML or JSON)")
	root.AddCommand(c.exportCmd(), c.importCmd(), c.verifyCmd(), c.statsCmd())
	return root
}

func (c *cli) withBackend(cmd *cobra.Command, run func(ctx context.Context, b *backend) error) error {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	b, err := c.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close(context.WithoutCancel(ctx))
	return run(ctx, b)
}

func (c *cli) exportCmd() *cobra.Command {
	var loc location
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole graph to a snapshot",
		Long: `Write every node and relationship to a snapshot.

--dir lays the graph out as one file per node and per relationship,
suitable for version control. --json writes a single document and
--archive a tar+zstd stream.

Examples:
  graphcode export --dir ./safety-graph
  graphcode export --archive - > graph.tar.zst`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				var m graphcode.Manifest
				var err error
				switch {
				case loc.dir != "":
					m, err = b.code.ExportDir(ctx, loc.dir)
				case loc.json != "":
					err = c.create(loc.json, func(w io.Writer) (err error) {
						m, err = b.code.ExportJSON(ctx, w)
						return err
					})
				default:
					err = c.create(loc.archive, func(w io.Writer) (err error) {
						m, err = b.code.ExportArchive(ctx, w)
						return err
					})
				}
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				fmt.Fprintf(c.errOut, "exported %d nodes, %d relationships to %s (%s)\n",
					m.NodeCount, m.RelationshipCount, loc.String(), m.Digest)
				return nil
			})
		},
	}
	loc.register(cmd)
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var (
		loc    location
		strict bool
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the whole graph with a snapshot",
		Long: `Delete everything in the database and load the snapshot in one
transaction. A snapshot that fails validation leaves the database as it was.

--strict refuses snapshots whose content does not match the digest in
their manifest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errNotConfirmed
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				var rep graphcode.Report
				var err error
				switch {
				case loc.dir != "":
					rep, err = b.code.ImportDir(ctx, loc.dir, strict)
				case loc.json != "":
					err = c.open(loc.json, func(r io.Reader) (err error) {
						rep, err = b.code.ImportJSON(ctx, r, strict)
						return err
					})
				default:
					err = c.open(loc.archive, func(r io.Reader) (err error) {
						rep, err = b.code.ImportArchive(ctx, r, strict)
						return err
					})
				}
				if err != nil {
					return fmt.Errorf("import: %w", err)
				}
				c.warnDigest(rep)
				fmt.Fprintf(c.errOut, "imported %d nodes, %d relationships from %s in %d attempt(s)\n",
					rep.Nodes, rep.Relationships, loc.String(), rep.Attempts)
				return nil
			})
		},
	}
	loc.register(cmd)
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on digest mismatch")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm that the database will be wiped")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	var (
		loc    location
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Validate a snapshot without touching the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				var rep graphcode.Report
				var err error
				switch {
				case loc.dir != "":
					rep, err = b.code.VerifyDir(ctx, loc.dir, strict)
				case loc.json != "":
					err = c.open(loc.json, func(r io.Reader) (err error) {
						rep, err = b.code.VerifyJSON(ctx, r, strict)
						return err
					})
				default:
					err = c.open(loc.archive, func(r io.Reader) (err error) {
						rep, err = b.code.VerifyArchive(ctx, r, strict)
						return err
					})
				}
				if err != nil {
					return fmt.Errorf("verify: %w", err)
				}
				c.warnDigest(rep)
				fmt.Fprintf(c.out, "ok: %d nodes, %d relationships, %s\n", rep.Nodes, rep.Relationships, rep.Digest)
				return nil
			})
		},
	}
	loc.register(cmd)
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on digest mismatch")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print node, relationship and risk counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				st, err := b.stats.Stats(ctx)
				if err != nil {
					return fmt.Errorf("stats: %w", err)
				}
				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NODES\tCOUNT")
				for _, k := range graph.SortedKeys(st.Nodes) {
					fmt.Fprintf(tw, "%s\t%d\n", k, st.Nodes[k])
				}
				fmt.Fprintln(tw, "\nRELATIONSHIPS\tCOUNT")
				for _, k := range graph.SortedKeys(st.Relationships) {
					fmt.Fprintf(tw, "%s\t%d\n", k, st.Relationships[k])
				}
				fmt.Fprintf(tw, "\nOPEN TASKS\t%d\n", st.OpenTasks)
				if len(st.TopRisks) > 0 {
					fmt.Fprintln(tw, "\nRPN\tASIL\tCAUSE -> EFFECT")
					for _, r := range st.TopRisks {
						fmt.Fprintf(tw, "%d\t%s\t%s -> %s\n", r.Rating.RPN, r.Rating.ASIL, r.Cause, r.Effect)
					}
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) warnDigest(rep graphcode.Report) {
	if !rep.DigestOK {
		fmt.Fprintf(c.errOut, "warning: content does not match the manifest digest (now %s)\n", rep.Digest)
	}
}

// create writes to a temporary file next to path and renames it into place
// once write succeeds.
func (c *cli) create(path string, write func(io.Writer) error) error {
	if path == stdio {
		return write(c.out)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c *cli) open(path string, read func(io.Reader) error) error {
	if path == stdio {
		return read(c.in)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return read(f)
}
