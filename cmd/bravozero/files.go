package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/bravozero/bravozero-go/pkg/bridge"
)

func (a *app) files(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.stderr, "Usage: bravozero files ls|cat|put|rm|info|sync|status [options]")
		return errUsage
	}

	sub, subArgs := args[0], args[1:]
	switch sub {
	case "ls":
		return a.filesList(ctx, subArgs)
	case "cat":
		return a.filesCat(ctx, subArgs)
	case "put":
		return a.filesPut(ctx, subArgs)
	case "rm":
		return a.filesRemove(ctx, subArgs)
	case "info":
		return a.filesInfo(ctx, subArgs)
	case "sync":
		return a.filesSync(ctx, subArgs)
	case "status":
		return a.filesStatus(ctx, subArgs)
	default:
		return fmt.Errorf("unknown files command %q", sub)
	}
}

func (a *app) filesList(ctx context.Context, args []string) error {
	fs := a.newFlagSet("files ls", "files ls [-r] [-pattern glob] [-json] [path]")
	recursive := fs.Bool("r", false, "List recursively")
	pattern := fs.String("pattern", "", "Glob the service filters by")
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 1); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	listing, err := c.Bridge.ListFiles(ctx, fs.Arg(0), bridge.ListOptions{Recursive: *recursive, Pattern: *pattern})
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(listing)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, f := range listing.Files {
		kind := "-"
		if f.IsDirectory {
			kind = "d"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", kind, f.Size, formatTime(f.ModifiedAt), f.Path)
	}
	fmt.Fprintf(tw, "total %d\n", listing.TotalCount)
	return tw.Flush()
}

func (a *app) filesCat(ctx context.Context, args []string) error {
	fs := a.newFlagSet("files cat", "files cat [-bytes] <path>")
	raw := fs.Bool("bytes", false, "Fetch raw bytes instead of text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if *raw {
		data, err := c.Bridge.ReadFileBytes(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		_, err = a.stdout.Write(data)
		return err
	}

	content, err := c.Bridge.ReadFile(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.stdout, content)
	return err
}

// filesPut uploads a local file, or stdin when the source is "-" or omitted.
func (a *app) filesPut(ctx context.Context, args []string) error {
	fs := a.newFlagSet("files put", "files put [-no-mkdir] <remote-path> [local-file|-]")
	noMkdir := fs.Bool("no-mkdir", false, "Fail instead of creating missing directories")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 2); err != nil {
		return err
	}

	var content []byte
	var err error
	if src := fs.Arg(1); src == "" || src == "-" {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(src)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	info, err := c.Bridge.WriteFile(ctx, fs.Arg(0), string(content), bridge.WriteOptions{CreateDirs: bridge.Bool(!*noMkdir)})
	if err != nil {
		return err
	}
	return a.printJSON(info)
}

func (a *app) filesRemove(ctx context.Context, args []string) error {
	fs := a.newFlagSet("files rm", "files rm <path>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Bridge.DeleteFile(ctx, fs.Arg(0))
}

func (a *app) filesInfo(ctx context.Context, args []string) error {
	fs := a.newFlagSet("files info", "files info <path>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	info, err := c.Bridge.GetFileInfo(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return a.printJSON(info)
}

func (a *app) filesSync(ctx context.Context, args []string) error {
	fs := a.newFlagSet("files sync", "files sync [path]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 1); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Bridge.Sync(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return a.printJSON(status)
}

func (a *app) filesStatus(ctx context.Context, args []string) error {
	fs := a.newFlagSet("files status", "files status [path]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 1); err != nil {
		return err
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Bridge.GetSyncStatus(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return a.printJSON(status)
}
