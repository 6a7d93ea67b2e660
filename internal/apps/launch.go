package apps

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// maxSuggestions bounds how many near-misses a failed match reports.
const maxSuggestions = 3

// Launcher resolves fuzzy application names against a catalog and
// starts the matched entry detached from the agent process.
type Launcher struct {
	catalog   *Catalog
	threshold int
	timeout   time.Duration
}

// NewLauncher creates a launcher. A zero threshold uses
// DefaultThreshold; a zero timeout uses 15 seconds.
func NewLauncher(catalog *Catalog, threshold int, timeout time.Duration) *Launcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Launcher{catalog: catalog, threshold: threshold, timeout: timeout}
}

// LaunchReceipt reports a successful launch.
type LaunchReceipt struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Score int    `json:"score"`
}

// Resolve matches query against the catalog. A best score below the
// threshold returns an error naming the closest candidates so the
// caller can retry with a better name.
func (l *Launcher) Resolve(query string) (Candidate, error) {
	ranked := l.catalog.Rank(query)
	if len(ranked) == 0 {
		return Candidate{}, fmt.Errorf("no applications discovered on this system")
	}
	best := ranked[0]
	if best.Score >= l.threshold {
		return best, nil
	}

	names := make([]string, 0, maxSuggestions)
	for _, c := range ranked {
		if len(names) == maxSuggestions || c.Score == 0 {
			break
		}
		names = append(names, c.App.Name)
	}
	if len(names) == 0 {
		return Candidate{}, fmt.Errorf("no application matches %q", query)
	}
	return Candidate{}, fmt.Errorf("no application matches %q; closest: %s", query, strings.Join(names, ", "))
}

// Launch resolves query and starts the matched application. The
// returned receipt confirms what was started; the application outlives
// the request.
func (l *Launcher) Launch(ctx context.Context, query string) (*LaunchReceipt, error) {
	match, err := l.Resolve(query)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd, bounded := launchCommand(ctx, match.App, l.timeout)
	if err := cmd.Start(); err != nil {
		if bounded != nil {
			bounded()
		}
		return nil, fmt.Errorf("start %s: %w", match.App.Name, err)
	}
	// Reap the child (or the short-lived opener) in the background so
	// it never lingers as a zombie.
	go func() {
		_ = cmd.Wait()
		if bounded != nil {
			bounded()
		}
	}()

	return &LaunchReceipt{
		Name:  match.App.Name,
		Path:  match.App.Path,
		Score: match.Score,
	}, nil
}

// launchCommand builds the platform start command for an app. Platform
// openers (open, cmd start, xdg-open) hand the app off and exit, so
// they run under a timeout; a direct Exec command is the application
// itself and must not be bound to the request context.
func launchCommand(ctx context.Context, app App, timeout time.Duration) (*exec.Cmd, context.CancelFunc) {
	opener := func(name string, args ...string) (*exec.Cmd, context.CancelFunc) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		return exec.CommandContext(cctx, name, args...), cancel
	}

	switch runtime.GOOS {
	case "darwin":
		return opener("open", app.Path)
	case "windows":
		return opener("cmd", "/c", "start", "", app.Path)
	default:
		if app.Exec != "" {
			fields := strings.Fields(app.Exec)
			return exec.Command(fields[0], fields[1:]...), nil
		}
		return opener("xdg-open", app.Path)
	}
}
