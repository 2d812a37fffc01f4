package generation

// ExtractAudioPaths returns, in order, the "path" of every map-shaped
// audio descriptor that has a non-empty string path. Anything else is
// skipped. The result is never nil.
func ExtractAudioPaths(audios []any) []string {
	paths := []string{}
	for _, audio := range audios {
		m, ok := audio.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := m["path"].(string); ok && p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
