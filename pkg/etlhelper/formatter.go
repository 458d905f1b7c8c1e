package etlhelper

import "strings"

// FormatExecutionInput substitutes placeholder tokens in a statements bundle
// (create/insert/drop strings plus an aggregate list). `{}` and `{1}` become
// the execution name, `{2}` the archive path. Braced tokens that match no
// recognized substitution, including malformed ones like `{1, 3}`, pass
// through untouched. The input bundle is not mutated.
func FormatExecutionInput(input map[string]any, executionName, archivePath string) map[string]any {
	replacer := strings.NewReplacer(
		"{}", executionName,
		"{1}", executionName,
		"{2}", archivePath,
	)
	return substituteMap(input, replacer)
}

func substituteMap(m map[string]any, replacer *strings.Replacer) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = substituteValue(value, replacer)
	}
	return out
}

func substituteValue(v any, replacer *strings.Replacer) any {
	switch t := v.(type) {
	case string:
		return replacer.Replace(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = substituteValue(item, replacer)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = replacer.Replace(item)
		}
		return out
	case map[string]any:
		return substituteMap(t, replacer)
	default:
		return v
	}
}
