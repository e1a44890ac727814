package sim

import (
	"log"
	"strings"
)

// Named describes an object that has a name.
type Named interface {
	Name() string
}

// NamedBase implements Named.
type NamedBase struct {
	name string
}

// Name returns the name of the object.
func (b *NamedBase) Name() string {
	return b.name
}

// MakeNamedBase creates a NamedBase. Names are used as keys in the monitor
// and in recordings, so they must not be empty or contain slashes.
func MakeNamedBase(name string) NamedBase {
	if strings.TrimSpace(name) == "" {
		log.Panic("name must not be empty")
	}

	if strings.Contains(name, "/") {
		log.Panicf("name %q must not contain '/'", name)
	}

	return NamedBase{name: name}
}
