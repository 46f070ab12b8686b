package models

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ModelFamily groups generation models sharing one set of capabilities.
// Adding a model means adding a family constant and a case in Capabilities.
type ModelFamily int

const (
	FamilyUnknown ModelFamily = iota
	FamilyVeo2
	FamilyVeo3
	FamilyVeo3Fast
)

var familyByModel = map[string]ModelFamily{
	"veo-2.0-generate-001":          FamilyVeo2,
	"veo-2.0-generate-exp":          FamilyVeo2,
	"veo-3.0-generate-001":          FamilyVeo3,
	"veo-3.0-generate-preview":      FamilyVeo3,
	"veo-3.0-fast-generate-001":     FamilyVeo3Fast,
	"veo-3.0-fast-generate-preview": FamilyVeo3Fast,
}

func (f ModelFamily) String() string {
	switch f {
	case FamilyVeo2:
		return "veo-2"
	case FamilyVeo3:
		return "veo-3"
	case FamilyVeo3Fast:
		return "veo-3-fast"
	default:
		return "unknown"
	}
}

// Capabilities describes what a model family accepts.
type Capabilities struct {
	MinDuration       int      `json:"minDuration"`
	MaxDuration       int      `json:"maxDuration"`
	SupportsAudio     bool     `json:"supportsAudio"`
	AspectRatios      []string `json:"aspectRatios"`
	PersonGeneration  []string `json:"personGeneration"`
	CanDisableEnhance bool     `json:"canDisableEnhance"`
}

// FixedDuration reports whether the family only produces one clip length.
func (c Capabilities) FixedDuration() bool {
	return c.MinDuration == c.MaxDuration
}

func (f ModelFamily) Capabilities() (Capabilities, bool) {
	switch f {
	case FamilyVeo2:
		return Capabilities{
			MinDuration:       5,
			MaxDuration:       8,
			SupportsAudio:     false,
			AspectRatios:      []string{"16:9", "9:16"},
			PersonGeneration:  []string{"allow_adult", "dont_allow", "allow_all"},
			CanDisableEnhance: true,
		}, true
	case FamilyVeo3, FamilyVeo3Fast:
		return Capabilities{
			MinDuration:       8,
			MaxDuration:       8,
			SupportsAudio:     true,
			AspectRatios:      []string{"16:9", "9:16"},
			PersonGeneration:  []string{"allow_adult", "dont_allow"},
			CanDisableEnhance: false,
		}, true
	case FamilyUnknown:
		return Capabilities{}, false
	}
	return Capabilities{}, false
}

func FamilyOf(model string) ModelFamily {
	return familyByModel[strings.TrimSpace(model)]
}

// KnownModels returns every supported model id, sorted.
func KnownModels() []string {
	out := make([]string, 0, len(familyByModel))
	for m := range familyByModel {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// VideoOptions are the generation parameters chosen by the caller.
type VideoOptions struct {
	Model            string `json:"model"`
	DurationSeconds  int    `json:"durationSeconds"`
	AspectRatio      string `json:"aspectRatio"`
	GenerateAudio    bool   `json:"generateAudio"`
	NegativePrompt   string `json:"negativePrompt,omitempty"`
	EnhancePrompt    bool   `json:"enhancePrompt"`
	PersonGeneration string `json:"personGeneration,omitempty"`
}

// ValidateOptions checks opts against the capabilities of its model family.
func ValidateOptions(opts VideoOptions) error {
	family := FamilyOf(opts.Model)
	caps, ok := family.Capabilities()
	if !ok {
		return fmt.Errorf("unsupported generation model %q", opts.Model)
	}
	if opts.DurationSeconds < caps.MinDuration || opts.DurationSeconds > caps.MaxDuration {
		if caps.FixedDuration() {
			return fmt.Errorf("model %s only supports %d second videos", opts.Model, caps.MinDuration)
		}
		return fmt.Errorf("model %s supports durations between %d and %d seconds, got %d",
			opts.Model, caps.MinDuration, caps.MaxDuration, opts.DurationSeconds)
	}
	if opts.GenerateAudio && !caps.SupportsAudio {
		return fmt.Errorf("model %s does not support audio generation", opts.Model)
	}
	if !slices.Contains(caps.AspectRatios, opts.AspectRatio) {
		return fmt.Errorf("model %s does not support aspect ratio %q (allowed: %s)",
			opts.Model, opts.AspectRatio, strings.Join(caps.AspectRatios, ", "))
	}
	if opts.PersonGeneration != "" && !slices.Contains(caps.PersonGeneration, opts.PersonGeneration) {
		return fmt.Errorf("model %s does not support person generation policy %q", opts.Model, opts.PersonGeneration)
	}
	if !opts.EnhancePrompt && !caps.CanDisableEnhance {
		return fmt.Errorf("model %s does not allow disabling prompt enhancement", opts.Model)
	}
	return nil
}
