// Package tsconfig keeps an app's tsconfig.json in sync with its ts_alias
// configuration by merging a "<alias>/*": ["./knot_packages/*"] entry into
// compilerOptions.paths. Grounded on
// original_source/apps/knot-cli/src/typescript.rs's update_existing_tsconfig
// and create_default_tsconfig.
package tsconfig

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/knotspace/knot/knoterr"
)

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// Sync ensures path, an app's tsconfig.json, has a
// compilerOptions.paths["<alias>/*"] entry pointing at "./knot_packages/*".
// If the file doesn't exist, a default tsconfig is created around the alias.
func Sync(path, alias string) error {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return writeDefault(path, alias)
	}
	if err != nil {
		return &knoterr.IOError{Operation: "tsconfig-read", Path: path, Reason: err.Error()}
	}

	doc, parseErr := decode(content)
	if parseErr != nil {
		cleaned := stripComments(string(content))
		doc, parseErr = decode([]byte(cleaned))
		if parseErr != nil {
			return &knoterr.IOError{Operation: "tsconfig-parse", Path: path, Reason: parseErr.Error()}
		}
	}

	mergeAlias(doc, alias)

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &knoterr.IOError{Operation: "tsconfig-marshal", Path: path, Reason: err.Error()}
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return &knoterr.IOError{Operation: "tsconfig-write", Path: path, Reason: err.Error()}
	}
	return nil
}

func decode(content []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// mergeAlias inserts or extends compilerOptions.paths["<alias>/*"] with
// "./knot_packages/*", leaving every other field untouched.
func mergeAlias(doc map[string]any, alias string) {
	compilerOptions, ok := doc["compilerOptions"].(map[string]any)
	if !ok {
		compilerOptions = map[string]any{}
	}
	paths, ok := compilerOptions["paths"].(map[string]any)
	if !ok {
		paths = map[string]any{}
	}

	key := alias + "/*"
	const target = "./knot_packages/*"

	switch existing := paths[key].(type) {
	case []any:
		for _, v := range existing {
			if s, ok := v.(string); ok && s == target {
				paths[key] = existing
				compilerOptions["paths"] = paths
				doc["compilerOptions"] = compilerOptions
				return
			}
		}
		paths[key] = append(existing, target)
	default:
		paths[key] = []any{target}
	}

	compilerOptions["paths"] = paths
	doc["compilerOptions"] = compilerOptions
}

func writeDefault(path, alias string) error {
	doc := map[string]any{
		"compilerOptions": map[string]any{
			"target":                           "es2020",
			"lib":                              []any{"es2020"},
			"module":                           "esnext",
			"moduleResolution":                 "node",
			"esModuleInterop":                  true,
			"allowSyntheticDefaultImports":     true,
			"strict":                           true,
			"skipLibCheck":                     true,
			"forceConsistentCasingInFileNames": true,
			"paths": map[string]any{
				alias + "/*": []any{"./knot_packages/*"},
			},
		},
		"include": []any{"src/**/*"},
		"exclude": []any{"node_modules", "dist"},
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &knoterr.IOError{Operation: "tsconfig-marshal", Path: path, Reason: err.Error()}
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return &knoterr.IOError{Operation: "tsconfig-write", Path: path, Reason: err.Error()}
	}
	return nil
}

// stripComments removes // and /* */ comments from content outside of
// string literals, then trims trailing commas before a closing brace or
// bracket, so that hand-edited tsconfig.json files (which tolerate JSONC)
// still parse as strict JSON.
func stripComments(content string) string {
	var out strings.Builder
	runes := []rune(content)
	inString := false
	escaped := false

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '"' && !escaped:
			inString = !inString
			out.WriteRune(ch)
		case ch == '\\' && inString:
			escaped = !escaped
			out.WriteRune(ch)
			continue
		case ch == '/' && !inString:
			if i+1 < len(runes) && runes[i+1] == '/' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				if i < len(runes) {
					out.WriteRune('\n')
				}
			} else if i+1 < len(runes) && runes[i+1] == '*' {
				i += 2
				for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
					i++
				}
				i++ // land on the closing '/'
			} else {
				out.WriteRune(ch)
			}
		default:
			out.WriteRune(ch)
		}
		escaped = false
	}

	return trailingComma.ReplaceAllString(out.String(), "$1")
}
