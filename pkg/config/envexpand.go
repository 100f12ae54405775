package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/chatloom/chatloom/pkg/models"
)

// envRefPattern matches ${NAME} and ${NAME:-default} references.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv resolves ${NAME} references in raw YAML content against the
// process environment. A reference without a ${NAME:-default} fallback whose
// variable is unset is a configuration error — collected and reported
// together so a misconfigured deployment fails with the full list.
func ExpandEnv(data []byte) ([]byte, error) {
	var missing []string

	expanded := envRefPattern.ReplaceAllStringFunc(string(data), func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)
		name := groups[1]
		hasDefault := groups[2] != ""

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return groups[3]
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return nil, models.NewDomainError(models.KindConfiguration,
			fmt.Sprintf("missing required environment variables: %s", strings.Join(missing, ", ")))
	}
	return []byte(expanded), nil
}
