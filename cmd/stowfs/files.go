package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowfs"
)

// File commands operate on the storage selected by --user, or on the root
// storage. Paths are storage paths; "/" is the root.

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>...",
	Short: "Create directories, including missing parents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
			for _, p := range args {
				if err := s.Mkdir(cmd.Context(), p); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put <local-file|-> <path>",
	Short: "Upload a local file, or stdin, to a storage path",
	Long: `Upload a local file to a storage path. A path ending in "/" keeps the
local file name. Use "-" to read from stdin.

Examples:
  stowfs put report.pdf docs/
  tar c . | stowfs put - backups/site.tar
  stowfs put --no-clobber notes.txt notes.txt`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

var putNoClobber bool

func runPut(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]
	if dst == "" || dst[len(dst)-1] == '/' {
		if src == "-" {
			return fmt.Errorf("put: a file name is required when reading stdin")
		}
		dst += path.Base(src)
	}

	var in io.Reader = cmd.InOrStdin()
	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	mode := "w"
	if putNoClobber {
		mode = "x"
	}

	return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
		h, err := s.OpenWrite(cmd.Context(), dst, mode)
		if err != nil {
			return err
		}
		n, err := io.Copy(h, in)
		if err != nil {
			h.Discard()
			return fmt.Errorf("put %s: %w", dst, err)
		}
		if err := h.Close(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", h.Path(), n)
		return nil
	})
}

var catCmd = &cobra.Command{
	Use:   "cat <path>...",
	Short: "Write file contents to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
			for _, p := range args {
				rc, err := s.OpenRead(cmd.Context(), p)
				if err != nil {
					return err
				}
				_, err = io.Copy(cmd.OutOrStdout(), rc)
				_ = rc.Close()
				if err != nil {
					return fmt.Errorf("cat %s: %w", p, err)
				}
			}
			return nil
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

var lsLong bool

func runLs(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}

	return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
		e, err := s.Stat(cmd.Context(), dir)
		if err != nil {
			return err
		}
		entries := []stowfs.Entry{e}
		if e.IsDir() {
			if entries, err = s.ReadDir(cmd.Context(), dir); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if !lsLong {
			for _, c := range entries {
				_, _ = fmt.Fprintln(out, displayName(c))
			}
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, c := range entries {
			size := fmt.Sprint(c.Size)
			if c.Incomplete() {
				size = "?"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Type(), size, c.MTime.Local().Format(time.DateTime), displayName(c))
		}
		return tw.Flush()
	})
}

func displayName(e stowfs.Entry) string {
	if e.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show the cache entry of a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
			e, err := s.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), statOutput, e)
		})
	},
}

var statOutput string

var touchCmd = &cobra.Command{
	Use:   "touch <path>...",
	Short: "Update mtimes, creating empty files as needed",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTouch,
}

var touchTime string

func runTouch(cmd *cobra.Command, args []string) error {
	var mtime time.Time
	if touchTime != "" {
		t, err := time.Parse(time.RFC3339, touchTime)
		if err != nil {
			return fmt.Errorf("touch: --time: %w", err)
		}
		mtime = t
	}

	return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
		for _, p := range args {
			if err := s.Touch(cmd.Context(), p, mtime); err != nil {
				return err
			}
		}
		return nil
	})
}

var mvCmd = &cobra.Command{
	Use:   "mv <src> <dst>",
	Short: "Rename a file or directory",
	Long:  `Rename a file or directory. Only cache entries change; no object is copied.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
			return s.Rename(cmd.Context(), args[0], args[1])
		})
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "Copy a file or directory",
	Long:  `Copy a file or directory with server side object copies.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
			return s.Copy(cmd.Context(), args[0], args[1])
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Remove files, or directories with -r",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

var (
	rmRecursive bool
	rmForce     bool
)

func runRm(cmd *cobra.Command, args []string) error {
	return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
		for _, p := range args {
			e, err := s.Stat(cmd.Context(), p)
			if err != nil {
				if rmForce && errors.Is(err, stowfs.ErrNotFound) {
					continue
				}
				return err
			}

			if e.IsDir() {
				if !rmRecursive {
					return fmt.Errorf("rm %s: use -r to remove directories: %w", e.Path, stowfs.ErrIsDirectory)
				}
				err = s.Rmdir(cmd.Context(), p)
			} else {
				err = s.Unlink(cmd.Context(), p)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func init() {
	putCmd.Flags().BoolVarP(&putNoClobber, "no-clobber", "n", false, "fail instead of overwriting an existing file")
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "long listing: type, size, mtime, name")
	statCmd.Flags().StringVarP(&statOutput, "output", "o", "yaml", "output format: yaml, json")
	touchCmd.Flags().StringVar(&touchTime, "time", "", "mtime to set, RFC 3339 (default: now)")
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "remove directories and their contents")
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "ignore missing paths")

	rootCmd.AddCommand(mkdirCmd, putCmd, catCmd, lsCmd, statCmd, touchCmd, mvCmd, cpCmd, rmCmd)
}
