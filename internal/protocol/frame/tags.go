package frame

import "strings"

// IRCv3 message-tag value escapes.
var (
	tagUnescaper = strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")
	tagEscaper   = strings.NewReplacer(`\`, `\\`, ";", `\:`, " ", `\s`, "\r", `\r`, "\n", `\n`)
)

func parseTags(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if key == "" {
			continue
		}
		value = strings.TrimSuffix(value, `\`)
		out[key] = tagUnescaper.Replace(value)
	}
	return out
}

func encodeTags(tags map[string]string) string {
	parts := make([]string, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		v := tags[k]
		if v == "" {
			parts = append(parts, k)
			continue
		}
		parts = append(parts, k+"="+tagEscaper.Replace(v))
	}
	return strings.Join(parts, ";")
}
