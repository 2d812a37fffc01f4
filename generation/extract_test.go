package generation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractAudioPaths(t *testing.T) {

	tests := []struct {
		name   string
		audios []any
		want   []string
	}{
		{
			name:   "nil",
			audios: nil,
			want:   []string{},
		},
		{
			name: "mixed",
			audios: []any{
				map[string]any{"path": "/out/a.mp3", "seed": 1},
				map[string]any{"file": "/v1/audio?path=b.mp3"},
				"/out/not-a-map.mp3",
				map[string]any{"path": ""},
				42,
				map[string]any{"path": 17},
				nil,
				map[string]any{"path": "/out/c.mp3"},
			},
			want: []string{"/out/a.mp3", "/out/c.mp3"},
		},
		{
			name: "order kept",
			audios: []any{
				map[string]any{"path": "z.flac"},
				map[string]any{"path": "a.flac"},
			},
			want: []string{"z.flac", "a.flac"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ExtractAudioPaths(tt.audios)); diff != "" {
				t.Errorf("paths mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
