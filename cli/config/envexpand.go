// Package config handles YAML config file loading for the session commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv substitutes environment references in input:
//
//	${VAR}           value of VAR, empty if unset
//	${VAR:-default}  value of VAR, or default if unset or empty
//	${VAR:?message}  value of VAR; an unset or empty VAR is an error
//
// Every missing required variable is reported, not just the first.
func ExpandEnv(input string) (string, error) {
	var (
		b    strings.Builder
		errs []error
		last int
	)
	for _, m := range envRef.FindAllStringSubmatchIndex(input, -1) {
		b.WriteString(input[last:m[0]])
		last = m[1]

		name := input[m[2]:m[3]]
		value := os.Getenv(name)
		if value != "" || m[4] < 0 {
			b.WriteString(value)
			continue
		}

		arg := input[m[6]:m[7]]
		if input[m[4]:m[5]] == "-" {
			b.WriteString(arg)
			continue
		}
		if arg == "" {
			arg = "required variable is not set"
		}
		errs = append(errs, fmt.Errorf("${%s}: %s", name, arg))
	}
	b.WriteString(input[last:])
	return b.String(), errors.Join(errs...)
}
