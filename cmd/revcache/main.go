// Package main provides the revcache CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"revcache/config"
	"revcache/internal/repo"
	"revcache/internal/syncer"
	"revcache/internal/vc"
	"revcache/internal/watch"
)

var rootCmd = &cobra.Command{
	Use:   "revcache",
	Short: "Git repository browser with an incremental revision cache",
	Long:  `revcache resolves revisions, inspects trees and changesets, and maintains an SQLite cache of revision metadata kept in sync with the commit graph.`,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the revision cache with the repository",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <rev>",
	Short: "Resolve a revision token to its full and short forms",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResolve,
}

var changesetCmd = &cobra.Command{
	Use:   "changeset <rev>",
	Short: "Show the changes introduced by a revision",
	Args:  cobra.ExactArgs(1),
	RunE:  runChangeset,
}

var changesetsCmd = &cobra.Command{
	Use:   "changesets",
	Short: "List changesets within a time window, newest first",
	Args:  cobra.NoArgs,
	RunE:  runChangesets,
}

var logCmd = &cobra.Command{
	Use:   "log <path>",
	Short: "Show the revisions that changed a path",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLog,
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory node",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file node's content",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

var blameCmd = &cobra.Command{
	Use:   "blame <path>",
	Short: "Show the origin revision of each line of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlame,
}

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List branches, or the branches containing a revision",
	Args:  cobra.NoArgs,
	RunE:  runBranches,
}

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List tags, or the tags pointing at a revision",
	Args:  cobra.NoArgs,
	RunE:  runTags,
}

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "List quickjump entries for all branches and tags",
	Args:  cobra.NoArgs,
	RunE:  runRefs,
}

var diffCmd = &cobra.Command{
	Use:   "diff <path> <old-rev> <new-rev>",
	Short: "Show a unified diff of one file between two revisions",
	Args:  cobra.ExactArgs(3),
	RunE:  runDiff,
}

var prevCmd = &cobra.Command{
	Use:   "prev <rev> [path]",
	Short: "Find the previous revision, optionally scoped to a path",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPrev,
}

var nextCmd = &cobra.Command{
	Use:   "next <rev> [path]",
	Short: "Find the next revision, optionally scoped to a path",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runNext,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the repository and synchronize on reference updates",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance commands",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all cached rows for the repository",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var (
	configPath string
	repoFlag   string
	dbFlag     string
	debugFlag  bool

	cleanFlag    bool
	revFlag      string
	globFlag     string
	limitFlag    int
	sinceFlag    string
	untilFlag    string
	containsFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Path to the git repository")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Path to the SQLite cache database")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	syncCmd.Flags().BoolVar(&cleanFlag, "clean", false, "Rebuild the cache from scratch")
	changesetCmd.Flags().StringVar(&globFlag, "glob", "", "Only show changes whose path matches the glob")
	changesetsCmd.Flags().StringVar(&sinceFlag, "since", "", "Window start (RFC 3339)")
	changesetsCmd.Flags().StringVar(&untilFlag, "until", "", "Window end (RFC 3339)")
	logCmd.Flags().StringVar(&revFlag, "rev", "", "Revision to start from (default HEAD)")
	logCmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum number of entries (0 = unlimited)")
	lsCmd.Flags().StringVar(&revFlag, "rev", "", "Revision to inspect (default HEAD)")
	catCmd.Flags().StringVar(&revFlag, "rev", "", "Revision to inspect (default HEAD)")
	blameCmd.Flags().StringVar(&revFlag, "rev", "", "Revision to inspect (default HEAD)")
	branchesCmd.Flags().StringVar(&containsFlag, "contains", "", "Only list branches containing this revision")
	tagsCmd.Flags().StringVar(&containsFlag, "contains", "", "Only list tags pointing at this revision")

	cacheCmd.AddCommand(cacheClearCmd)

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(changesetCmd)
	rootCmd.AddCommand(changesetsCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(blameCmd)
	rootCmd.AddCommand(branchesCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(prevCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if repoFlag != "" {
		cfg.Repository = repoFlag
	}
	if dbFlag != "" {
		cfg.Cache = dbFlag
	}
	if debugFlag {
		cfg.Debug = true
	}
	if cfg.Repository == "" {
		cfg.Repository = "."
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openRepo opens the configured repository, cache-backed when a cache
// path is set.
func openRepo() (repo.Repository, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg)
	r, err := syncer.Open(cfg.Repository, cfg.Cache, cfg.Options(), log)
	if err != nil {
		return nil, nil, err
	}
	return r, cfg, nil
}

// openCached is openRepo for commands that require the cache layer.
func openCached() (*syncer.Cached, *config.Config, error) {
	r, cfg, err := openRepo()
	if err != nil {
		return nil, nil, err
	}
	cached, ok := r.(*syncer.Cached)
	if !ok {
		r.Close()
		return nil, nil, fmt.Errorf("no cache configured: set --db or the cache config key")
	}
	return cached, cfg, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	r, _, err := openCached()
	if err != nil {
		return err
	}
	defer r.Close()
	count := 0
	err = r.Sync(func(rev string) {
		count++
		fmt.Println(rev)
	}, cleanFlag)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "synchronized %d revision(s)\n", count)
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	token := ""
	if len(args) > 0 {
		token = args[0]
	}
	full, err := r.Resolve(token)
	if err != nil {
		return err
	}
	short, err := r.ShortRev(full)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", full, short)
	return nil
}

func runChangeset(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	cset, err := r.Changeset(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("revision %s\n", cset.Rev)
	fmt.Printf("author   %s\n", cset.Author)
	fmt.Printf("date     %s\n", cset.Time.Format(time.RFC3339))
	for _, p := range cset.Parents {
		fmt.Printf("parent   %s\n", p)
	}
	fmt.Printf("\n%s\n", cset.Message)
	for _, ch := range cset.Changes {
		if globFlag != "" {
			if ok, err := doublestar.Match(globFlag, ch.Path); err != nil || !ok {
				continue
			}
		}
		line := fmt.Sprintf("%s %s %s", ch.Action.Code(), ch.Kind.Code(), ch.Path)
		if ch.BasePath != "" && ch.BasePath != ch.Path {
			line += fmt.Sprintf(" (from %s@%s)", ch.BasePath, shorten(ch.BaseRev))
		}
		fmt.Println(line)
	}
	return nil
}

func runChangesets(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	since := time.Time{}
	until := time.Now()
	if sinceFlag != "" {
		if since, err = time.Parse(time.RFC3339, sinceFlag); err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}
	}
	if untilFlag != "" {
		if until, err = time.Parse(time.RFC3339, untilFlag); err != nil {
			return fmt.Errorf("parsing --until: %w", err)
		}
	}
	csets, err := r.Changesets(since, until)
	if err != nil {
		return err
	}
	for _, cset := range csets {
		fmt.Printf("%s %s %s %s\n", shorten(cset.Rev), cset.Time.Format(time.RFC3339), cset.Author, firstLine(cset.Message))
	}
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	node, err := r.Node(path, revFlag)
	if err != nil {
		return err
	}
	iter, err := node.History(limitFlag)
	if err != nil {
		return err
	}
	defer iter.Close()
	for {
		ev, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		fmt.Printf("%s %s %s\n", ev.Commit.Hash, ev.Action.Code(), ev.Path)
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	node, err := r.Node(path, revFlag)
	if err != nil {
		return err
	}
	if node.IsFile() {
		size, err := node.ContentLength()
		if err != nil {
			return err
		}
		fmt.Printf("%s %8d %s\n", node.Kind.Code(), size, node.Path)
		return nil
	}
	entries, err := node.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s %s\n", e.Kind.Code(), e.Path)
	}
	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	node, err := r.Node(args[0], revFlag)
	if err != nil {
		return err
	}
	if !node.IsFile() {
		return fmt.Errorf("%s is not a file", args[0])
	}
	content, err := node.Content()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(content)
	return err
}

func runBlame(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	node, err := r.Node(args[0], revFlag)
	if err != nil {
		return err
	}
	revs, err := node.Annotations()
	if err != nil {
		return err
	}
	for i, rev := range revs {
		fmt.Printf("%6d %s\n", i+1, shorten(rev))
	}
	return nil
}

func runBranches(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	if containsFlag != "" {
		points, err := r.BranchesContaining(containsFlag)
		if err != nil {
			return err
		}
		for _, p := range points {
			marker := " "
			if p.Head {
				marker = "*"
			}
			fmt.Printf("%s %s %s\n", marker, p.Name, shorten(p.Rev))
		}
		return nil
	}
	entries, err := r.QuickJumpEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Category == "branches" {
			fmt.Printf("%s %s\n", e.Name, shorten(e.Rev))
		}
	}
	return nil
}

func runTags(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	if containsFlag != "" {
		names, err := r.TagsOf(containsFlag)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}
	entries, err := r.QuickJumpEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Category == "tags" {
			fmt.Printf("%s %s\n", e.Name, shorten(e.Rev))
		}
	}
	return nil
}

func runRefs(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	entries, err := r.QuickJumpEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%-10s %-30s %s %s\n", e.Category, e.Name, e.Path, shorten(e.Rev))
	}
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	direct, ok := r.(interface {
		ContentDiff(path, oldRev, newRev string) (string, error)
	})
	if !ok {
		return vc.ErrUnsupported
	}
	text, err := direct.ContentDiff(args[0], args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

func runPrev(cmd *cobra.Command, args []string) error {
	return runAdjacent(args, func(r repo.Repository, rev, path string) (string, error) {
		return r.PreviousRev(rev, path)
	})
}

func runNext(cmd *cobra.Command, args []string) error {
	return runAdjacent(args, func(r repo.Repository, rev, path string) (string, error) {
		return r.NextRev(rev, path)
	})
}

func runAdjacent(args []string, fn func(r repo.Repository, rev, path string) (string, error)) error {
	r, _, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	path := ""
	if len(args) > 1 {
		path = args[1]
	}
	rev, err := fn(r, args[0], path)
	if err != nil {
		return err
	}
	if rev == "" {
		return nil
	}
	fmt.Println(rev)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	r, cfg, err := openCached()
	if err != nil {
		return err
	}
	defer r.Close()
	log := newLogger(cfg)

	if err := r.Sync(nil, false); err != nil {
		return err
	}
	w, err := watch.New(cfg.Repository, cfg.WatchDebounce, cfg.WatchIgnore, log, func() {
		log.Info("references changed, synchronizing")
		if err := r.Sync(nil, false); err != nil {
			log.Error("sync failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	log.Info("watching repository", "repo", cfg.Repository)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	r, _, err := openCached()
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.ClearCache(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "cache cleared")
	return nil
}

func shorten(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func firstLine(msg string) string {
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' {
			return msg[:i]
		}
	}
	return msg
}
