package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/solstice/syscrawl/internal/bgg"
	"github.com/solstice/syscrawl/internal/media"
	"github.com/solstice/syscrawl/internal/store"
	"github.com/solstice/syscrawl/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure syscrawl can operate correctly.

This command checks:
- SQLite version (built-in)
- Database accessibility, integrity and server version
- BoardGameGeek reachability with the configured User-Agent
- Hero image storage (local directory or GCS bucket)
- Event log directory permissions and disk space

Use this command to troubleshoot issues before running a crawl.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().Bool("offline", false, "skip network checks")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := context.Background()

	util.InfoLog("=== syscrawl Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	results = append(results, checkSQLite())
	results = append(results, checkDatabase(viper.GetString("db")))

	offline, _ := cmd.Flags().GetBool("offline")
	if !offline {
		baseURL := GetConfigString("base-url", bgg.DefaultBaseURL)
		results = append(results, checkBGG(ctx, baseURL, util.GetUserAgent()))
	}

	results = append(results, checkStorage(ctx, GetConfigString("storage", "none"), offline))

	if dir := GetConfigString("events-dir", "artifacts/events"); dir != "" {
		results = append(results, checkWritableDirectory("Event log directory", dir))
		results = append(results, checkDiskSpace(dir, "event log"))
	}

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some critical checks failed. Please resolve errors before crawling.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All checks passed! Ready to crawl.")
	}

	return nil
}

// checkSQLite verifies the embedded SQLite version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies the catalogue database can be opened and migrated
func checkDatabase(dsn string) checkResult {
	if dsn == "" {
		return checkResult{
			name:    "Database",
			warning: true,
			message: "no database specified (use --db flag or config)",
		}
	}

	var size string
	if store.DialectForDSN(dsn) == store.DialectSQLite {
		info, err := os.Stat(dsn)
		if err != nil {
			if os.IsNotExist(err) {
				return checkResult{
					name:    "Database",
					message: fmt.Sprintf("%s (will be created on first run)", dsn),
				}
			}
			return checkResult{
				name:    "Database",
				error:   true,
				message: fmt.Sprintf("cannot access %s: %v", dsn, err),
			}
		}
		if !info.Mode().IsRegular() {
			return checkResult{
				name:    "Database",
				error:   true,
				message: fmt.Sprintf("%s is not a regular file", dsn),
			}
		}
		size = humanize.Bytes(uint64(info.Size())) + ", "
	}

	db, err := store.Open(dsn)
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", displayDSN(dsn), err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	version, err := db.ServerVersion(ctx)
	if err != nil {
		version = "unknown"
	}
	totals, err := db.GetCatalogTotals(ctx)
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot read catalogue: %v", err),
		}
	}

	return checkResult{
		name:    "Database",
		message: fmt.Sprintf("%s (%s%s %s, %d game systems)", displayDSN(dsn), size, db.Dialect(), version, totals.Systems),
	}
}

// checkBGG fetches the site root with the crawler's User-Agent
func checkBGG(ctx context.Context, baseURL, userAgent string) checkResult {
	name := "BoardGameGeek"

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return checkResult{name: name, error: true, message: fmt.Sprintf("invalid base URL %q: %v", baseURL, err)}
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return checkResult{name: name, error: true, message: fmt.Sprintf("unreachable: %v", err)}
	}
	resp.Body.Close()
	elapsed := time.Since(start).Round(time.Millisecond)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return checkResult{name: name, warning: true, message: fmt.Sprintf("%s is throttling (%s)", baseURL, resp.Status)}
	case resp.StatusCode >= 400:
		return checkResult{name: name, error: true, message: fmt.Sprintf("%s returned %s", baseURL, resp.Status)}
	}
	return checkResult{name: name, message: fmt.Sprintf("%s (%s in %s)", baseURL, resp.Status, elapsed)}
}

// checkStorage verifies the configured hero image storage
func checkStorage(ctx context.Context, mode string, offline bool) checkResult {
	name := fmt.Sprintf("Hero image storage (%s)", mode)

	switch mode {
	case "none":
		return checkResult{name: name, message: "images stay at their source URL"}
	case "local":
		r := checkWritableDirectory(name, GetConfigString("media-dir", "artifacts/media"))
		if !r.error && viper.GetString("media-base-url") == "" {
			r.warning = true
			r.message += "; no --media-base-url, assets will use file:// URLs"
		}
		return r
	case "gcs":
		bucket := viper.GetString("gcs-bucket")
		if bucket == "" {
			return checkResult{name: name, error: true, message: "--gcs-bucket is required"}
		}
		if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON") == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			return checkResult{name: name, warning: true, message: "no credentials in environment; relying on default credentials"}
		}
		if offline {
			return checkResult{name: name, message: fmt.Sprintf("gs://%s (not contacted)", bucket)}
		}
		g, err := media.NewGCSUploader(ctx, bucket, viper.GetString("gcs-cdn-domain"))
		if err != nil {
			return checkResult{name: name, error: true, message: err.Error()}
		}
		defer g.Close()
		if err := g.Ping(ctx); err != nil {
			return checkResult{name: name, error: true, message: err.Error()}
		}
		return checkResult{name: name, message: fmt.Sprintf("gs://%s (reachable, public URLs like %s)", bucket, g.PublicURL("game-systems/..."))}
	}
	return checkResult{name: name, error: true, message: "unknown storage mode (want none, local or gcs)"}
}

// checkWritableDirectory verifies a directory exists or can be created and is writable
func checkWritableDirectory(name, path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    name,
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    name,
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	testFile := filepath.Join(path, ".syscrawl_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    name,
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)

	// Event logs and local hero images are small; 1 GB is plenty
	warning := false
	warningMsg := ""
	if availBytes < 1<<30 {
		warning = true
		warningMsg = " (low space!)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", humanize.Bytes(availBytes), warningMsg),
	}
}
