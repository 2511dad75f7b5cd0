package router

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string {
	return uuid.NewString()[:8]
}

// parseCommand splits "/name@bot arg1 arg2" into its lowercased name and
// arguments. It reports false when text is not a command.
func parseCommand(text, prefix string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	name := fields[0]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = normalizeName(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}
