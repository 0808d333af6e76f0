package config

import (
	"strings"
)

// Keys whose values are credentials. Every request header under
// endpoint.headers is treated the same way.
var secretKeys = map[string]bool{
	"endpoint.token": true,
	"telegram.token": true,
}

const headerPrefix = "endpoint.headers."

// IsSecretKey reports whether a dot-separated key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key] || strings.HasPrefix(key, headerPrefix)
}

// Flatten turns nested maps into dot-separated keys:
// {"cache": {"backend": "file"}} becomes {"cache.backend": "file"}.
// Empty nested maps disappear.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	walk(nil, m, out)
	return out
}

func walk(path []string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := append(path[:len(path):len(path)], k)
		if child, ok := v.(map[string]any); ok {
			walk(key, child, out)
			continue
		}
		out[strings.Join(key, ".")] = v
	}
}

// Unflatten is the inverse of Flatten.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setPath(out, strings.Split(k, "."), v)
	}
	return out
}

func setPath(root map[string]any, path []string, v any) {
	node := root
	for _, part := range path[:len(path)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	node[path[len(path)-1]] = v
}

// MaskSecrets returns a copy of flat with credential values reduced to
// "***" plus their last four characters. Empty and non-string values are
// copied as they are.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			v = maskValue(s)
		}
		out[k] = v
	}
	return out
}

func maskValue(s string) string {
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}
