package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// ${NAME} or ${NAME:-fallback}
var reEnvRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${VAR} references in every string of a decoded config
// tree. Secrets (credentials, webhook URLs, bot tokens) live in the
// environment, so a reference to an unset variable without a fallback is an
// error rather than an empty string.
func expandEnv(v any, lookup func(string) (string, bool)) (any, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	missing := map[string]struct{}{}
	out := expandValue(v, lookup, missing)
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unset environment variables: %s", strings.Join(names, ", "))
	}
	return out, nil
}

func expandValue(v any, lookup func(string) (string, bool), missing map[string]struct{}) any {
	switch x := v.(type) {
	case string:
		return expandString(x, lookup, missing)
	case map[string]any:
		for k, e := range x {
			x[k] = expandValue(e, lookup, missing)
		}
		return x
	case []any:
		for i := range x {
			x[i] = expandValue(x[i], lookup, missing)
		}
		return x
	default:
		return v
	}
}

func expandString(s string, lookup func(string) (string, bool), missing map[string]struct{}) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return reEnvRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := reEnvRef.FindStringSubmatch(ref)
		if val, ok := lookup(m[1]); ok && val != "" {
			return val
		}
		if strings.Contains(ref, ":-") {
			return m[2]
		}
		missing[m[1]] = struct{}{}
		return ""
	})
}
