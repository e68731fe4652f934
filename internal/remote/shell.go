package remote

import (
	"path"
	"strconv"
	"strings"
)

// notFoundStatus is the exit status the download script uses for a missing file.
const notFoundStatus = 44

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func uploadScript(target string) string {
	return "mkdir -p " + shellEscape(path.Dir(target)) + " && cat > " + shellEscape(target)
}

func downloadScript(target string) string {
	quoted := shellEscape(target)
	return "if [ -f " + quoted + " ]; then cat " + quoted + "; else exit " + strconv.Itoa(notFoundStatus) + "; fi"
}

// expandHome replaces a leading "~" with home. "~user" forms are left alone.
func expandHome(p, home string) string {
	switch {
	case p == "~":
		return home
	case strings.HasPrefix(p, "~/"):
		return path.Join(home, p[2:])
	default:
		return p
	}
}

func needsHome(p string) bool {
	return p == "~" || strings.HasPrefix(p, "~/")
}
