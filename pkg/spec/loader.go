package spec

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadScenario reads a YAML scenario file. Template variables like {{date}}
// and {{param_name}} are interpolated using params, falling back to the
// defaults declared in the file.
func LoadScenario(path string, params map[string]string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := ParseScenario(data, params)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario parses YAML data into a Scenario with variable interpolation.
func ParseScenario(data []byte, params map[string]string) (Scenario, error) {
	// First pass: read the param declarations.
	var raw struct {
		Params []ParamDef `yaml:"params"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}

	vars := buildVarMap(raw.Params, params, time.Now())
	for _, p := range raw.Params {
		if _, ok := vars[p.Name]; !ok && p.Required {
			return Scenario{}, fmt.Errorf("missing value for required param %q", p.Name)
		}
	}

	interpolated := interpolateVars(string(data), vars)

	var sc Scenario
	if err := yaml.Unmarshal([]byte(interpolated), &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse interpolated scenario: %w", err)
	}
	return sc, nil
}

// buildVarMap merges built-in variables, param defaults and overrides, in
// increasing precedence.
func buildVarMap(paramDefs []ParamDef, overrides map[string]string, now time.Time) map[string]string {
	vars := make(map[string]string)

	vars["date"] = now.Format("2006-01-02")
	vars["datetime"] = now.Format("2006-01-02T15:04:05")
	vars["year"] = now.Format("2006")
	vars["month"] = now.Format("01")
	vars["day"] = now.Format("02")
	vars["unix"] = fmt.Sprintf("%d", now.Unix())

	for _, p := range paramDefs {
		if p.Default != nil {
			vars[p.Name] = fmt.Sprintf("%v", p.Default)
		}
	}
	for k, v := range overrides {
		vars[k] = v
	}
	return vars
}

// templatePattern matches {{var_name}} patterns.
var templatePattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// interpolateVars replaces {{var_name}} patterns with values from vars.
// Unknown names are left in place.
func interpolateVars(s string, vars map[string]string) string {
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(strings.TrimSuffix(match, "}}"), "{{")
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}

// unresolved lists the template variables still present in s.
func unresolved(s string) []string {
	var out []string
	for _, m := range templatePattern.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}
