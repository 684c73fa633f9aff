package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// RepoClient provides read-only access to a version-controlled source.
type RepoClient interface {
	// ResolveRevision resolves a symbolic revision (branch, tag) to an
	// immutable commit hash without checking anything out. Full commit
	// hashes resolve to themselves.
	ResolveRevision(ctx context.Context, url, revision string) (string, error)

	// EnsureCheckout clones or updates a repository so destDir holds the
	// tree at the given revision, and returns the checked-out commit hash.
	EnsureCheckout(ctx context.Context, url, revision, destDir string) (string, error)
}

// ShellClient implements RepoClient by shelling out to the git command.
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a git client that uses the git command. Either
// credential file may be empty for anonymous access.
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

var commitHashPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// CheckoutPath returns a stable per-repository working directory under
// cacheDir. The URL hash keeps repositories with the same basename apart.
func CheckoutPath(cacheDir, repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))

	base := strings.TrimSuffix(repoURL, ".git")
	base = strings.TrimRight(base, "/")
	if idx := strings.LastIndexAny(base, "/:"); idx >= 0 {
		base = base[idx+1:]
	}
	if base == "" {
		base = "repo"
	}

	return filepath.Join(cacheDir, fmt.Sprintf("%s-%x", base, sum[:6]))
}

// ResolveRevision resolves a branch or tag to its commit hash via ls-remote.
func (c *ShellClient) ResolveRevision(ctx context.Context, url, revision string) (string, error) {
	if commitHashPattern.MatchString(revision) {
		return revision, nil
	}

	cmd := exec.CommandContext(ctx, "git", "ls-remote", url, revision, revision+"^{}")
	if err := c.configureAuth(cmd, url); err != nil {
		return "", err
	}

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git ls-remote failed for %s: %w", url, err)
	}

	hash := parseLsRemoteOutput(string(output))
	if hash == "" {
		return "", fmt.Errorf("revision %q not found in %s", revision, url)
	}
	return hash, nil
}

// parseLsRemoteOutput extracts the commit hash from ls-remote output, which
// is "<hash>\t<ref>" per line. A peeled tag line (ref^{}) points at the
// commit the tag wraps and wins over the tag object itself.
func parseLsRemoteOutput(output string) string {
	var hash string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if strings.HasSuffix(fields[1], "^{}") {
			return fields[0]
		}
		hash = fields[0]
	}
	return hash
}

// EnsureCheckout clones or fetches and checks out the specified revision.
func (c *ShellClient) EnsureCheckout(ctx context.Context, url, revision, destDir string) (string, error) {
	gitDir := filepath.Join(destDir, ".git")
	exists := false
	if _, err := os.Stat(gitDir); err == nil {
		exists = true
	}

	var cmd *exec.Cmd
	if !exists {
		if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}

		cmd = exec.CommandContext(ctx, "git", "clone", "--no-checkout", url, destDir)
		if err := c.configureAuth(cmd, url); err != nil {
			return "", err
		}
		if err := c.runCommand(cmd); err != nil {
			return "", fmt.Errorf("git clone failed: %w", err)
		}
	} else {
		cmd = exec.CommandContext(ctx, "git", "-C", destDir, "fetch", "origin")
		if err := c.configureAuth(cmd, url); err != nil {
			return "", err
		}
		if err := c.runCommand(cmd); err != nil {
			return "", fmt.Errorf("git fetch failed: %w", err)
		}
	}

	// Try direct checkout first (local branches, tags, commit hashes),
	// then fall back to the remote tracking ref.
	cmd = exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", revision)
	if err := c.runCommand(cmd); err != nil {
		remoteRef := "origin/" + revision
		cmd = exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", remoteRef)
		if err := c.runCommand(cmd); err != nil {
			return "", fmt.Errorf("git checkout failed for revision %q: %w", revision, err)
		}
	}

	// A stale local branch may lag origin after fetch. Reset silently;
	// this is a no-op for fresh clones, tags and hashes.
	if exists {
		resetCmd := exec.CommandContext(ctx, "git", "-C", destDir, "reset", "--hard", "origin/"+revision)
		_ = c.runCommand(resetCmd)
	}

	cmd = exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// configureAuth sets up authentication for git operations.
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// The key path is shell-quoted to prevent injection via crafted
		// filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// Pass the token via environment variable and a credential helper
		// that reads it, so it never appears in a shell expression.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "DRIFTSYNC_GIT_TOKEN="+strings.TrimSpace(string(token)))
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$DRIFTSYNC_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with stderr on failure.
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
