package config

// DefaultServerPort is the HTTP listener port when none is configured.
const DefaultServerPort = 3456

// defaultAllowedTools is the tool allow-list applied to repositories that do
// not configure their own. Read-only inspection plus the edit set the agent
// needs to do useful work in a worktree.
var defaultAllowedTools = []string{
	"Read(**)",
	"Edit(**)",
	"Bash",
	"Glob",
	"Grep",
	"Task",
	"WebFetch",
	"WebSearch",
	"TodoRead",
	"TodoWrite",
	"NotebookRead",
	"NotebookEdit",
}

// builtinDefaults returns the EdgeConfig values merged under the loaded file.
func builtinDefaults() EdgeConfig {
	return EdgeConfig{
		ServerPort:          DefaultServerPort,
		DefaultAllowedTools: append([]string(nil), defaultAllowedTools...),
	}
}
