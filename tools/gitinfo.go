package tools

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/keepcontext/mnemo/core"
	"github.com/keepcontext/mnemo/memory"
)

// GitInfo describes the repository enclosing the server's working
// directory, when there is one.
type GitInfo struct {
	Repo   string  `json:"repo"`
	Branch string  `json:"branch"`
	Remote *string `json:"remote"`
}

func (r *Registry) contextInfo(user string) *core.ToolResult {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = ""
	}
	return jsonResult(map[string]interface{}{
		"platform":  "http",
		"user":      user,
		"pwd":       pwd,
		"git_info":  detectGit(pwd),
		"timestamp": memory.Now(),
	}, false)
}

// detectGit walks up from dir looking for a .git directory and reads the
// branch and origin remote from it directly. Returns nil outside a
// repository or on any parse failure.
func detectGit(dir string) *GitInfo {
	root := findGitRoot(dir)
	if root == "" {
		return nil
	}
	branch := readBranch(filepath.Join(root, ".git", "HEAD"))
	if branch == "" {
		return nil
	}
	info := &GitInfo{Repo: filepath.Base(root), Branch: branch}
	if remote := readOriginURL(filepath.Join(root, ".git", "config")); remote != "" {
		info.Remote = &remote
	}
	return info
}

func findGitRoot(dir string) string {
	for dir != "" {
		if fi, err := os.Stat(filepath.Join(dir, ".git")); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
	return ""
}

func readBranch(headPath string) string {
	data, err := os.ReadFile(headPath)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(data))
	const prefix = "ref: refs/heads/"
	if !strings.HasPrefix(line, prefix) {
		// Detached HEAD, no branch name to report.
		return ""
	}
	return strings.TrimPrefix(line, prefix)
}

// readOriginURL pulls the url line out of the [remote "origin"] section.
func readOriginURL(configPath string) string {
	f, err := os.Open(configPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	inOrigin := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			inOrigin = line == `[remote "origin"]`
			continue
		}
		if inOrigin && strings.HasPrefix(line, "url") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}
