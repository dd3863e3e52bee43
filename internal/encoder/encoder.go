package encoder

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/audiolibrelab/sdrecord/internal/pipeline"
)

var (
	ErrUnknownProfile     = errors.New("unknown encoder profile")
	ErrProfileUnavailable = errors.New("encoder profile not available in this build")
)

type profile struct {
	extension string
	newStage  func() pipeline.Stage
}

var profiles = map[string]profile{
	"wav": {extension: "wav", newStage: func() pipeline.Stage { return NewWAV() }},
	"pcm": {extension: "pcm", newStage: func() pipeline.Stage { return NewPCM() }},
}

// Profiles the capture firmware knew about but that have no encoder here.
var unavailable = map[string]bool{
	"opus":  true,
	"aac":   true,
	"amrwb": true,
	"amrnb": true,
}

func lookup(name string) (profile, error) {
	key := strings.ToLower(name)
	if p, ok := profiles[key]; ok {
		return p, nil
	}
	if unavailable[key] {
		return profile{}, fmt.Errorf("%w: %s", ErrProfileUnavailable, name)
	}
	return profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
}

// New creates the encoder stage for a profile name.
func New(name string) (pipeline.Stage, error) {
	p, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return p.newStage(), nil
}

// Extension returns the file extension used for a profile.
func Extension(name string) (string, error) {
	p, err := lookup(name)
	if err != nil {
		return "", err
	}
	return p.extension, nil
}

// Profiles lists the profiles that can be encoded.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
