package models

import (
	"strings"
	"testing"
)

func TestEveryKnownModelHasCapabilities(t *testing.T) {
	for _, m := range KnownModels() {
		if _, ok := FamilyOf(m).Capabilities(); !ok {
			t.Fatalf("model %s has no capabilities", m)
		}
	}
}

func TestValidateOptions(t *testing.T) {
	cases := []struct {
		name    string
		opts    VideoOptions
		wantErr string
	}{
		{
			name: "veo2 ok",
			opts: VideoOptions{Model: "veo-2.0-generate-001", DurationSeconds: 5, AspectRatio: "16:9"},
		},
		{
			name: "veo3 ok with audio",
			opts: VideoOptions{Model: "veo-3.0-generate-001", DurationSeconds: 8, AspectRatio: "16:9", GenerateAudio: true, EnhancePrompt: true},
		},
		{
			name:    "unknown model",
			opts:    VideoOptions{Model: "sora", DurationSeconds: 8, AspectRatio: "16:9"},
			wantErr: "unsupported generation model",
		},
		{
			name:    "veo2 duration out of range",
			opts:    VideoOptions{Model: "veo-2.0-generate-001", DurationSeconds: 10, AspectRatio: "16:9"},
			wantErr: "between 5 and 8",
		},
		{
			name:    "veo3 fixed duration",
			opts:    VideoOptions{Model: "veo-3.0-fast-generate-001", DurationSeconds: 6, AspectRatio: "16:9", EnhancePrompt: true},
			wantErr: "only supports 8 second",
		},
		{
			name:    "veo2 audio",
			opts:    VideoOptions{Model: "veo-2.0-generate-001", DurationSeconds: 8, AspectRatio: "16:9", GenerateAudio: true},
			wantErr: "audio",
		},
		{
			name:    "bad aspect ratio",
			opts:    VideoOptions{Model: "veo-2.0-generate-001", DurationSeconds: 8, AspectRatio: "1:1"},
			wantErr: "aspect ratio",
		},
		{
			name:    "veo3 cannot disable enhance",
			opts:    VideoOptions{Model: "veo-3.0-generate-001", DurationSeconds: 8, AspectRatio: "16:9"},
			wantErr: "enhancement",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOptions(tc.opts)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
