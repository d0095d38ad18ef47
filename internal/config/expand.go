package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var envToken = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// ExpandEnv replaces `${NAME}` tokens with the value of the environment
// variable NAME. Unset variables expand to the empty string. Only names
// matching [A-Za-z0-9_]+ are recognized; anything else is left untouched.
func ExpandEnv(raw []byte) []byte {
	return envToken.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envToken.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ExpandHome resolves a leading ~ or ~/ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
