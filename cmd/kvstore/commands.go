// Commands understood on the command line and in the interactive shell.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/maruel/kvstore/internal/config"
	"github.com/maruel/kvstore/internal/history"
	"github.com/maruel/kvstore/internal/jsonkv"
	"github.com/maruel/kvstore/internal/value"
)

var (
	errUsage     = errors.New("usage")
	errNotFound  = errors.New("not found")
	errIntegrity = errors.New("integrity check failed")
)

// cli runs commands against an open store.
type cli struct {
	st   *jsonkv.Store
	hist *history.Repo // nil when history is disabled.
	out  io.Writer
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, c *cli, args []string) error
}

var commands map[string]*command

func init() {
	commands = map[string]*command{
		"set":          {"set <key> <value>", "Store a value", cmdSet},
		"get":          {"get <key>", "Print a value", cmdGet},
		"update":       {"update <key> <value>", "Replace an existing value", cmdUpdate},
		"del":          {"del <key>", "Delete a key", cmdDel},
		"exists":       {"exists <key>", "Report whether a key exists", cmdExists},
		"keys":         {"keys", "List all keys", cmdKeys},
		"count":        {"count", "Print the number of entries", cmdCount},
		"clear":        {"clear -force", "Delete all entries", cmdClear},
		"search":       {"search <substring>", "List entries whose key contains substring", cmdSearch},
		"save":         {"save", "Write the data file and indexes", cmdSave},
		"reload":       {"reload", "Reload the data file from disk", cmdReload},
		"status":       {"status", "Show the store status", cmdStatus},
		"autosave":     {"autosave [on|off]", "Show or change auto-save", cmdAutoSave},
		"backup":       {"backup [on|off]", "Show or change backups on save", cmdBackup},
		"export":       {"export [-format json|msgpack] <file|->", "Write all entries to a file", cmdExport},
		"import":       {"import [-format json|msgpack] <file|->", "Merge entries from a file", cmdImport},
		"index":        {"index <create|field|drop|clear|list|rebuild|stats|verify|find|hash|hashes|field-find> ...", "Manage and query indexes", cmdIndex},
		"find-partial": {"find-partial <path> <substring>", "Keys whose string field contains substring", cmdFindPartial},
		"find-range":   {"find-range <path> <min> <max>", "Keys whose numeric field is within [min, max]", cmdFindRange},
		"find-multi":   {"find-multi <path=value>...", "Keys matching every condition", cmdFindMulti},
		"values":       {"values <path>", "Distinct values of a field", cmdValues},
		"verify":       {"verify", "Check the data file and its integrity record", cmdVerify},
		"repair":       {"repair", "Restore the newest valid backup", cmdRepair},
		"backups":      {"backups", "List backups, newest first", cmdBackups},
		"history":      {"history [-n count] [commit]", "Show data file history, or its content at a commit", cmdHistory},
		"schema":       {"schema", "Print the configuration file JSON Schema", cmdSchema},
		"watch":        {"watch [-reload]", "Report external changes to the data file", cmdWatch},
		"help":         {"help", "Show this help", cmdHelp},
	}
}

// run executes one command.
func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	name := args[0]
	switch name {
	case "delete":
		name = "del"
	case "len":
		name = "count"
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q; try help", args[0])
	}
	if err := cmd.run(ctx, c, args[1:]); err != nil {
		if err == errUsage { //nolint:errorlint // bare sentinel
			return fmt.Errorf("%w: %s", errUsage, cmd.usage)
		}
		if errors.Is(err, errUsage) {
			return fmt.Errorf("%w; usage: %s", err, cmd.usage)
		}
		return err
	}
	return nil
}

// shell reads commands line by line until EOF or quit.
func (c *cli) shell(ctx context.Context, in io.Reader, interactive bool) error {
	if interactive {
		_, _ = fmt.Fprintf(c.out, "kvstore: %d entries in %s; type help for commands\n", c.st.Len(), c.st.Path())
	}
	s := bufio.NewScanner(in)
	s.Buffer(nil, 16<<20)
	for {
		if interactive {
			_, _ = fmt.Fprint(c.out, "> ")
		}
		if !s.Scan() {
			break
		}
		args := strings.Fields(s.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		if err := c.run(ctx, args); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, _ = fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return s.Err()
}

func (c *cli) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *cli) printValue(v value.Value) error {
	b, err := value.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	c.printf("%s\n", b)
	return nil
}

func (c *cli) printLines(lines []string) {
	for _, l := range lines {
		c.printf("%s\n", l)
	}
}

func parseFlags(name string, args []string, setup func(*flag.FlagSet)) ([]string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	setup(fs)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	return fs.Args(), nil
}

// literal joins the remaining arguments the way they were typed.
func literal(args []string) value.Value {
	return value.ParseLiteral(strings.Join(args, " "))
}

func onOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: want on or off, got %q", errUsage, s)
}

func cmdSet(_ context.Context, c *cli, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	return c.st.Insert(args[0], literal(args[1:]))
}

func cmdGet(_ context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	v, ok := c.st.Get(args[0])
	if !ok {
		return fmt.Errorf("key %q %w", args[0], errNotFound)
	}
	return c.printValue(v)
}

func cmdUpdate(_ context.Context, c *cli, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	ok, err := c.st.Update(args[0], literal(args[1:]))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %q %w", args[0], errNotFound)
	}
	return nil
}

func cmdDel(_ context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	ok, err := c.st.Delete(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %q %w", args[0], errNotFound)
	}
	return nil
}

func cmdExists(_ context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	c.printf("%t\n", c.st.Exists(args[0]))
	return nil
}

func cmdKeys(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	c.printLines(c.st.Keys())
	return nil
}

func cmdCount(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	c.printf("%d\n", c.st.Len())
	return nil
}

func cmdClear(_ context.Context, c *cli, args []string) error {
	force := false
	rest, err := parseFlags("clear", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&force, "force", false, "confirm")
	})
	if err != nil {
		return err
	}
	if len(rest) != 0 || !force {
		return errUsage
	}
	return c.st.Clear()
}

func cmdSearch(_ context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	for _, k := range c.st.SearchKeys(args[0]) {
		v, ok := c.st.Get(k)
		if !ok {
			continue
		}
		b, err := value.Marshal(v)
		if err != nil {
			return err
		}
		c.printf("%s = %s\n", k, b)
	}
	return nil
}

func cmdSave(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return c.st.Save()
}

func cmdReload(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return c.st.Reload()
}

func cmdStatus(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 1, ' ', 0)
	_, _ = fmt.Fprintf(w, "Data file:\t%s\n", c.st.Path())
	_, _ = fmt.Fprintf(w, "Entries:\t%d\n", c.st.Len())
	_, _ = fmt.Fprintf(w, "Auto-save:\t%t\n", c.st.AutoSave())
	_, _ = fmt.Fprintf(w, "Backups:\t%t\n", c.st.BackupEnabled())
	_, _ = fmt.Fprintf(w, "Indexes:\t%d\n", len(c.st.ListIndexes()))
	_, _ = fmt.Fprintf(w, "Integrity:\t%t\n", c.st.VerifyDataIntegrity())
	_, _ = fmt.Fprintf(w, "History:\t%t\n", c.hist != nil)
	return w.Flush()
}

func cmdAutoSave(_ context.Context, c *cli, args []string) error {
	switch len(args) {
	case 0:
		c.printf("%t\n", c.st.AutoSave())
		return nil
	case 1:
		on, err := onOff(args[0])
		if err != nil {
			return err
		}
		c.st.SetAutoSave(on)
		return nil
	}
	return errUsage
}

func cmdBackup(_ context.Context, c *cli, args []string) error {
	switch len(args) {
	case 0:
		c.printf("%t\n", c.st.BackupEnabled())
		return nil
	case 1:
		on, err := onOff(args[0])
		if err != nil {
			return err
		}
		c.st.SetBackupEnabled(on)
		return nil
	}
	return errUsage
}

func formatFlag(fs *flag.FlagSet, f *string) {
	fs.StringVar(f, "format", "json", "json or msgpack")
}

func cmdExport(_ context.Context, c *cli, args []string) (err error) {
	var format string
	rest, err := parseFlags("export", args, func(fs *flag.FlagSet) { formatFlag(fs, &format) })
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errUsage
	}
	f, err := jsonkv.ParseFormat(format)
	if err != nil {
		return err
	}
	if rest[0] == "-" {
		return c.st.Export(c.out, f)
	}
	out, err := os.Create(rest[0])
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", rest[0], err)
	}
	defer func() {
		if err2 := out.Close(); err == nil {
			err = err2
		}
	}()
	if err := c.st.Export(out, f); err != nil {
		return err
	}
	c.printf("exported %d entries to %s\n", c.st.Len(), rest[0])
	return nil
}

func cmdImport(_ context.Context, c *cli, args []string) error {
	var format string
	rest, err := parseFlags("import", args, func(fs *flag.FlagSet) { formatFlag(fs, &format) })
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errUsage
	}
	f, err := jsonkv.ParseFormat(format)
	if err != nil {
		return err
	}
	var in io.Reader = os.Stdin
	if rest[0] != "-" {
		fh, err := os.Open(rest[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", rest[0], err)
		}
		defer func() { _ = fh.Close() }()
		in = fh
	}
	n, err := c.st.Import(in, f)
	if err != nil {
		return err
	}
	c.printf("imported %d entries\n", n)
	return nil
}

func cmdIndex(_ context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, args := args[0], args[1:]
	need := func(n int) error {
		if len(args) != n {
			return errUsage
		}
		return nil
	}
	switch sub {
	case "create":
		if err := need(1); err != nil {
			return err
		}
		return c.st.CreateIndex(args[0])
	case "field":
		if err := need(2); err != nil {
			return err
		}
		return c.st.CreateFieldIndex(args[0], args[1])
	case "drop":
		if err := need(1); err != nil {
			return err
		}
		return c.st.DropIndex(args[0])
	case "clear":
		if err := need(1); err != nil {
			return err
		}
		return c.st.ClearIndex(args[0])
	case "rebuild":
		if err := need(1); err != nil {
			return err
		}
		return c.st.RebuildIndex(args[0])
	case "list":
		if err := need(0); err != nil {
			return err
		}
		for _, info := range c.st.ListIndexes() {
			if info.Field == "" {
				c.printf("%s\n", info.Name)
			} else {
				c.printf("%s\t%s\n", info.Name, info.Field)
			}
		}
		return nil
	case "stats":
		if err := need(1); err != nil {
			return err
		}
		st, err := c.st.IndexStats(args[0])
		if err != nil {
			return err
		}
		c.printf("unique hashes: %d\nentries: %d\n", st.UniqueHashes, st.Entries)
		return nil
	case "verify":
		if err := need(1); err != nil {
			return err
		}
		ok, err := c.st.VerifyIndexIntegrity(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("index %q: %w", args[0], errIntegrity)
		}
		c.printf("ok\n")
		return nil
	case "find":
		if len(args) < 2 {
			return errUsage
		}
		keys, err := c.st.FindByValue(args[0], literal(args[1:]))
		if err != nil {
			return err
		}
		c.printLines(keys)
		return nil
	case "hash":
		if err := need(2); err != nil {
			return err
		}
		h, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid hash %q", errUsage, args[1])
		}
		keys, err := c.st.FindByHash(args[0], h)
		if err != nil {
			return err
		}
		c.printLines(keys)
		return nil
	case "hashes":
		if err := need(1); err != nil {
			return err
		}
		hs, err := c.st.AllHashes(args[0])
		if err != nil {
			return err
		}
		for _, h := range hs {
			c.printf("%d\n", h)
		}
		return nil
	case "field-find":
		if len(args) < 3 {
			return errUsage
		}
		c.printLines(c.st.FindByField(args[0], args[1], literal(args[2:])))
		return nil
	}
	return errUsage
}

func cmdFindPartial(_ context.Context, c *cli, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	c.printLines(c.st.FindPartial(args[0], strings.Join(args[1:], " ")))
	return nil
}

func cmdFindRange(_ context.Context, c *cli, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	lo, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("%w: invalid minimum %q", errUsage, args[1])
	}
	hi, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("%w: invalid maximum %q", errUsage, args[2])
	}
	c.printLines(c.st.FindRange(args[0], lo, hi))
	return nil
}

func cmdFindMulti(_ context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	matches := make([]jsonkv.FieldMatch, 0, len(args))
	for _, a := range args {
		path, lit, ok := strings.Cut(a, "=")
		if !ok || path == "" {
			return fmt.Errorf("%w: invalid condition %q", errUsage, a)
		}
		matches = append(matches, jsonkv.FieldMatch{Path: path, Value: value.ParseLiteral(lit)})
	}
	c.printLines(c.st.FindMulti(matches))
	return nil
}

func cmdValues(_ context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	for _, v := range c.st.ListFieldValues(args[0]) {
		b, err := value.Marshal(v)
		if err != nil {
			return err
		}
		c.printf("%s\n", b)
	}
	return nil
}

func cmdVerify(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	valid, err := c.st.ValidateIntegrity()
	if err != nil {
		return err
	}
	matches := c.st.VerifyDataIntegrity()
	c.printf("file valid: %t\nrecord matches: %t\n", valid, matches)
	if !valid || !matches {
		return errIntegrity
	}
	return nil
}

func cmdRepair(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	r, err := c.st.RepairFile()
	if err != nil {
		return err
	}
	for _, rb := range r.Rejected {
		c.printf("skipped %s: %s\n", rb.Path, rb.Reason)
	}
	if r.Restored == "" {
		c.printf("no valid backup; store reset to empty\n")
	} else {
		c.printf("restored %s (%d entries)\n", r.Restored, r.Records)
	}
	return nil
}

func cmdBackups(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	backups, err := c.st.Backups()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, b := range backups {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", b.Path, b.Created.UTC().Format(time.RFC3339), b.Size)
	}
	return w.Flush()
}

func cmdHistory(ctx context.Context, c *cli, args []string) error {
	n := 20
	rest, err := parseFlags("history", args, func(fs *flag.FlagSet) {
		fs.IntVar(&n, "n", 20, "number of commits")
	})
	if err != nil {
		return err
	}
	if c.hist == nil {
		return errors.New("history is disabled; set history: true in the configuration")
	}
	switch len(rest) {
	case 0:
		commits, err := c.hist.Log(ctx, c.st.Path(), n)
		if err != nil {
			return err
		}
		for _, cm := range commits {
			c.printf("%s %s %s\n", cm.Hash[:min(12, len(cm.Hash))], cm.AuthorDate.UTC().Format(time.RFC3339), cm.Message)
		}
		return nil
	case 1:
		data, err := c.hist.FileAt(ctx, rest[0], c.st.Path())
		if err != nil {
			return err
		}
		_, err = c.out.Write(data)
		return err
	}
	return errUsage
}

func cmdSchema(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	data, err := config.Schema()
	if err != nil {
		return err
	}
	_, err = c.out.Write(data)
	return err
}

func cmdWatch(ctx context.Context, c *cli, args []string) error {
	reload := false
	rest, err := parseFlags("watch", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&reload, "reload", false, "reload the store after each valid change")
	})
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return errUsage
	}
	return c.st.Watch(ctx, func(ch jsonkv.Change) {
		switch {
		case ch.Removed:
			c.printf("%s removed\n", ch.Path)
		case !ch.Valid:
			c.printf("%s modified; content is not valid\n", ch.Path)
		default:
			c.printf("%s modified\n", ch.Path)
			if reload {
				if err := c.st.Reload(); err != nil {
					c.printf("reload failed: %v\n", err)
					return
				}
				c.printf("reloaded %d entries\n", c.st.Len())
			}
		}
	})
}

func cmdHelp(_ context.Context, c *cli, _ []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %s\t%s\n", commands[name].usage, commands[name].help)
	}
	_, _ = fmt.Fprintf(w, "  quit\tLeave the interactive shell\n")
	return w.Flush()
}
