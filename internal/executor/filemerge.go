package executor

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// codeFileExtensions are the languages spec.md §4.3 step 4 names for
// structure-aware merge.
var codeFileExtensions = map[string]bool{
	".py": true, ".java": true, ".ts": true, ".js": true, ".go": true, ".rs": true,
}

// defHeader matches a top-level function/class/def header in any of
// the recognized languages, capturing the declared symbol name.
var defHeader = regexp.MustCompile(`^\s*(?:func|def|class|fn|function)\s+(?:\([^)]*\)\s*)?(\w+)`)

// importLine matches a leading import/use statement across languages.
var importLine = regexp.MustCompile(`^\s*(import\s|from\s.*\simport\s|use\s|package\s)`)

// mergeContent dispatches to the format-specific MODIFY merge from
// spec.md §4.3 steps 4–6, based on the target's extension.
func mergeContent(path, original, addition string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case codeFileExtensions[ext]:
		return mergeCode(original, addition)
	case ext == ".ini" || ext == ".properties" || ext == ".env":
		return mergeKeyValue(original, addition)
	case ext == ".json":
		if merged, ok := mergeJSON(original, addition); ok {
			return merged
		}
		return appendContent(original, addition)
	case ext == ".yaml" || ext == ".yml":
		if merged, ok := mergeYAML(original, addition); ok {
			return merged
		}
		return appendContent(original, addition)
	default:
		return appendContent(original, addition)
	}
}

// mergeCode implements spec.md §4.3 step 4: replace definitions whose
// symbol already exists, append new ones at the end of the body,
// and merge imports deduplicated.
func mergeCode(original, addition string) string {
	origLines := strings.Split(original, "\n")
	addLines := strings.Split(addition, "\n")

	origImports, origBody, importEnd := splitImports(origLines)
	addImports, addBody, _ := splitImports(addLines)

	mergedImports := mergeImportSets(origImports, addImports)

	origDefs := splitDefinitions(origBody)
	newDefs := splitDefinitions(addBody)

	for symbol, block := range newDefs {
		if symbol == "" {
			origDefs[""] = append(origDefs[""], block...)
			continue
		}
		origDefs[symbol] = block
	}

	var out []string
	out = append(out, mergedImports...)
	if len(mergedImports) > 0 {
		out = append(out, "")
	}
	_ = importEnd

	for _, symbol := range orderedKeys(origDefs, origBody, newDefs) {
		out = append(out, origDefs[symbol]...)
	}
	return strings.Join(out, "\n")
}

// splitImports peels the leading contiguous run of import/use/package
// lines (and blank lines among them) from the front of lines.
func splitImports(lines []string) (imports, rest []string, boundary int) {
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			i++
			continue
		}
		if importLine.MatchString(lines[i]) {
			imports = append(imports, lines[i])
			i++
			continue
		}
		break
	}
	return imports, lines[i:], i
}

func mergeImportSets(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range append(append([]string{}, a...), b...) {
		key := strings.TrimSpace(line)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
	}
	return out
}

// splitDefinitions groups body lines into named blocks keyed by the
// declared symbol, per the coarse regex boundary spec.md step 4 calls
// for: "function/class/def headers ... closing braces for brace
// languages". Lines before the first recognized header are kept under
// the empty-string key so they survive the merge untouched.
func splitDefinitions(body []string) map[string][]string {
	defs := make(map[string][]string)
	currentKey := ""
	for _, line := range body {
		if m := defHeader.FindStringSubmatch(line); m != nil {
			currentKey = m[1]
		}
		defs[currentKey] = append(defs[currentKey], line)
	}
	return defs
}

// orderedKeys returns original body's definition order, appending any
// brand-new symbols from newDefs at the end (spec.md step 4: "append
// to the end ... for new definitions not present").
func orderedKeys(merged map[string][]string, origBody []string, newDefs map[string][]string) []string {
	var order []string
	seen := make(map[string]bool)
	currentKey := ""
	for _, line := range origBody {
		if m := defHeader.FindStringSubmatch(line); m != nil {
			currentKey = m[1]
		}
		if !seen[currentKey] {
			seen[currentKey] = true
			order = append(order, currentKey)
		}
	}
	for key := range newDefs {
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}
	_ = merged
	return order
}

// mergeKeyValue implements spec.md §4.3 step 5 for INI/properties
// files: parse key = value lines, new overrides existing, unknown
// lines (comments, sections) pass through from the original.
func mergeKeyValue(original, addition string) string {
	order, values, passthrough := parseKeyValue(original)
	addOrder, addValues, _ := parseKeyValue(addition)

	for _, k := range addOrder {
		if _, exists := values[k]; !exists {
			order = append(order, k)
		}
		values[k] = addValues[k]
	}

	var out []string
	out = append(out, passthrough...)
	for _, k := range order {
		out = append(out, k+" = "+values[k])
	}
	return strings.Join(out, "\n")
}

func parseKeyValue(content string) (order []string, values map[string]string, passthrough []string) {
	values = make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") || strings.HasPrefix(trimmed, "[") {
			if trimmed != "" {
				passthrough = append(passthrough, line)
			}
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			passthrough = append(passthrough, line)
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if _, exists := values[key]; !exists {
			order = append(order, key)
		}
		values[key] = val
	}
	return order, values, passthrough
}

// mergeJSON implements spec.md §4.3 step 6's deep-merge for JSON:
// new values win on scalar conflicts; arrays are replaced wholesale.
func mergeJSON(original, addition string) (string, bool) {
	var origDoc, addDoc map[string]interface{}
	if err := json.Unmarshal([]byte(original), &origDoc); err != nil {
		return "", false
	}
	if err := json.Unmarshal([]byte(addition), &addDoc); err != nil {
		return "", false
	}
	merged := deepMerge(origDoc, addDoc)
	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return "", false
	}
	return string(out), true
}

// mergeYAML mirrors mergeJSON for YAML documents.
func mergeYAML(original, addition string) (string, bool) {
	var origDoc, addDoc map[string]interface{}
	if err := yaml.Unmarshal([]byte(original), &origDoc); err != nil {
		return "", false
	}
	if err := yaml.Unmarshal([]byte(addition), &addDoc); err != nil {
		return "", false
	}
	merged := deepMerge(origDoc, addDoc)
	out, err := yaml.Marshal(merged)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// deepMerge combines two mappings: nested maps merge recursively,
// scalars and arrays from b win outright.
func deepMerge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, bv := range b {
		if av, ok := out[k]; ok {
			aMap, aIsMap := toStringMap(av)
			bMap, bIsMap := toStringMap(bv)
			if aIsMap && bIsMap {
				out[k] = deepMerge(aMap, bMap)
				continue
			}
		}
		out[k] = bv
	}
	return out
}

func toStringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
