// internal/normalize/normalize.go
package normalize

import (
	"regexp"
	"strings"
	"time"

	"forge-issues/internal/model"
)

// botSuffix is the literal, case-sensitive login suffix hosts append to
// machine accounts.
const botSuffix = "[bot]"

// maintainerAssociations is the closed set of host-reported author
// associations that classify an author as a maintainer.
var maintainerAssociations = map[string]bool{
	"MEMBER":       true,
	"OWNER":        true,
	"COLLABORATOR": true,
}

// IsBot reports whether a login belongs to a machine account.
func IsBot(login string) bool {
	return strings.HasSuffix(login, botSuffix)
}

// IsMaintainerAssociation reports whether an author_association value marks
// the author as a maintainer of the repository.
func IsMaintainerAssociation(association string) bool {
	return maintainerAssociations[association]
}

// TimeToClose returns closed - created in whole seconds, or nil when the
// record is still open. A negative result (closed before created) is a data
// anomaly that is deliberately kept rather than clamped, for observability.
func TimeToClose(createdAt, closedAt *time.Time) *int64 {
	if createdAt == nil || closedAt == nil {
		return nil
	}
	secs := int64(closedAt.Sub(*createdAt) / time.Second)
	return &secs
}

// Finalize computes the derived fields on an issue after host-specific
// mapping. Shared by the sync engine and the archive importer.
func Finalize(issue *model.Issue) {
	issue.TimeToClose = TimeToClose(issue.CreatedAt, issue.ClosedAt)
}

// DependencyUpdate is the metadata parsed out of a dependency-bot PR title.
type DependencyUpdate struct {
	PackageName string `json:"package_name"`
	OldVersion  string `json:"old_version"`
	NewVersion  string `json:"new_version"`
	Path        string `json:"path,omitempty"`
	Ecosystem   string `json:"ecosystem,omitempty"`
}

// dependencyBotLogins are the login aliases the parser applies to. Anything
// else is left alone even if the title happens to match.
var dependencyBotLogins = map[string]bool{
	"dependabot[bot]":         true,
	"dependabot-preview[bot]": true,
	"renovate[bot]":           true,
	"greenkeeper[bot]":        true,
}

// labelEcosystems maps host label keywords to normalized package-ecosystem
// names.
var labelEcosystems = map[string]string{
	"ruby":           "rubygems",
	"javascript":     "npm",
	"java":           "maven",
	"python":         "pip",
	"php":            "packagist",
	"rust":           "cargo",
	"go":             "go",
	"elixir":         "hex",
	"elm":            "elm",
	".net":           "nuget",
	"dart":           "pub",
	"docker":         "docker",
	"github_actions": "actions",
	"submodules":     "submodules",
	"terraform":      "terraform",
}

// titlePattern matches "<prefix> <package> from <old> to <new>" with an
// optional " in <path>" tail, as written by dependabot and friends.
var titlePattern = regexp.MustCompile(`^\S+ (.+?) from (\S+) to (\S+)(?: in (\S+))?$`)

// ParseDependencyUpdate extracts dependency metadata from a bot PR. Returns
// nil without error when the author is not a known dependency bot or the
// title does not match the expected shape.
func ParseDependencyUpdate(user *string, title string, labels []string) *DependencyUpdate {
	if user == nil || !dependencyBotLogins[*user] {
		return nil
	}
	m := titlePattern.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	update := &DependencyUpdate{
		PackageName: m[1],
		OldVersion:  m[2],
		NewVersion:  m[3],
		Path:        m[4],
	}
	for _, label := range labels {
		if eco, ok := labelEcosystems[strings.ToLower(label)]; ok {
			update.Ecosystem = eco
			break
		}
	}
	return update
}
