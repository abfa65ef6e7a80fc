// Command bar packs directories into bar archives, lists them and unpacks
// them again. Archives may be local paths or http(s) URLs.
//
//	bar pack [-o out.bar] [-compression high-zstd] [-passphrase p -salt s] dir
//	bar ls [-l] archive
//	bar cat archive path
//	bar unpack [-passphrase p -salt s] archive dest
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/meigma/bar"
	barhttp "github.com/meigma/bar/http"
)

const usage = `usage: bar [-v] <command> [flags] args

commands:
  pack    build an archive from a directory
  ls      list archive entries
  cat     write one file to stdout
  unpack  extract an archive into a directory
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bar:", err)
		os.Exit(1)
	}
}

// run executes one command line.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("bar", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	verbose := global.Bool("v", false, "log progress to stderr")
	if err := global.Parse(args); err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errors.New("missing command")
	}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "pack":
		return runPack(ctx, cmdArgs, stderr, logger)
	case "ls":
		return runList(cmdArgs, stdout, stderr, logger)
	case "cat":
		return runCat(cmdArgs, stdout, stderr, logger)
	case "unpack":
		return runUnpack(ctx, cmdArgs, stderr, logger)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// keyFlags are shared by every command that touches encrypted archives.
type keyFlags struct {
	passphrase string
	salt       string
}

func (k *keyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&k.passphrase, "passphrase", "", "encrypt or decrypt with a key derived from this passphrase")
	fs.StringVar(&k.salt, "salt", "", "salt for key derivation, required with -passphrase; use a fresh one per archive")
}

func (k *keyFlags) key() ([]byte, error) {
	if k.passphrase == "" {
		return nil, nil
	}
	if k.salt == "" {
		return nil, errors.New("-passphrase needs -salt")
	}
	return bar.DeriveKey([]byte(k.passphrase), []byte(k.salt)), nil
}

func runPack(ctx context.Context, args []string, stderr io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "", "output file (default <dir>.bar)")
	compression := fs.String("compression", "", "default compression method, e.g. high-zstd (default: sidecar or none)")
	skipBelow := fs.Int64("skip-below", 0, "store files smaller than this many bytes or already compressed uncompressed")
	workers := fs.Int("workers", 0, "parallel compression workers (<0 serial, 0 auto)")
	var keys keyFlags
	keys.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("pack: want exactly one directory")
	}
	dir := fs.Arg(0)
	if *out == "" {
		*out = filepath.Clean(dir) + ".bar"
	}

	opts := []bar.BuildOption{
		bar.BuildWithWorkers(*workers),
		bar.BuildWithLogger(logger),
		bar.BuildWithProgress(func(e bar.ProgressEvent) {
			logger.Debug("progress", "stage", e.Stage.String(), "path", e.Path, "files", e.FilesDone, "total", e.FilesTotal)
		}),
	}
	if *compression != "" {
		m, err := bar.ParseMethod(*compression)
		if err != nil {
			return err
		}
		opts = append(opts, bar.BuildWithCompression(m))
	}
	if *skipBelow > 0 {
		opts = append(opts, bar.BuildWithSkipCompression(bar.DefaultSkipCompression(*skipBelow)))
	}
	key, err := keys.key()
	if err != nil {
		return err
	}
	if key != nil {
		opts = append(opts, bar.BuildWithRevision(bar.RevisionEncrypted), bar.BuildWithKey(key))
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	s, err := bar.BuildDir(ctx, f, dir, opts...)
	if err != nil {
		f.Close()
		os.Remove(*out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("packed", "archive", *out, "files", s.Files, "dirs", s.Dirs, "size", s.Size(), "digest", s.Digest.String())
	return nil
}

func runList(args []string, stdout, stderr io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.SetOutput(stderr)
	long := fs.Bool("l", false, "show sizes, methods and notes")
	var keys keyFlags
	keys.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("ls: want exactly one archive")
	}
	h, closeFn, err := openArchive(fs.Arg(0), &keys, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	for p, info := range h.Walk() {
		name := p
		if info.IsDir() {
			name += "/"
		}
		if !*long {
			fmt.Fprintln(stdout, name)
			continue
		}
		used := "-"
		if info.Meta.Used {
			used = "u"
		}
		fmt.Fprintf(stdout, "%s %10d %-12s %s", used, info.Size, info.Method, name)
		if info.Meta.Note != "" {
			fmt.Fprintf(stdout, "  # %s", firstLine(info.Meta.Note))
		}
		fmt.Fprintln(stdout)
	}
	return nil
}

func runCat(args []string, stdout, stderr io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("cat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keys keyFlags
	keys.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("cat: want an archive and a path")
	}
	h, closeFn, err := openArchive(fs.Arg(0), &keys, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	rc, err := h.OpenFile(fs.Arg(1))
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(stdout, rc)
	return err
}

func runUnpack(ctx context.Context, args []string, stderr io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("unpack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keys keyFlags
	keys.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("unpack: want an archive and a destination directory")
	}
	h, closeFn, err := openArchive(fs.Arg(0), &keys, logger, bar.WithProgress(func(e bar.ProgressEvent) {
		logger.Debug("progress", "stage", e.Stage.String(), "path", e.Path, "files", e.FilesDone, "total", e.FilesTotal)
	}))
	if err != nil {
		return err
	}
	defer closeFn()
	return h.UnpackTo(ctx, fs.Arg(1))
}

// openArchive opens a local file or, for http(s) URLs, a remote archive
// through range requests.
func openArchive(name string, keys *keyFlags, logger *slog.Logger, extra ...bar.Option) (*bar.Handle, func(), error) {
	opts := append([]bar.Option{bar.WithLogger(logger)}, extra...)
	key, err := keys.key()
	if err != nil {
		return nil, nil, err
	}
	if key != nil {
		opts = append(opts, bar.WithRevision(bar.RevisionEncrypted), bar.WithKey(key))
	}

	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		src, err := barhttp.NewSource(name, barhttp.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		h, err := bar.Open(src, opts...)
		if err != nil {
			return nil, nil, err
		}
		return h, func() {}, nil
	}

	h, err := bar.OpenFile(name, opts...)
	if err != nil {
		return nil, nil, err
	}
	return h, func() { h.Close() }, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
