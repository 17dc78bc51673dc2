// Package identity generates display names and avatars for new members.
package identity

import (
	"sync"

	"github.com/brianvoe/gofakeit/v7"
)

// DefaultAvatarBase is prefixed to the display name to form an avatar URI.
const DefaultAvatarBase = "//api.adorable.io/avatars/30/"

// Identity is a generated display name and its avatar URI.
type Identity struct {
	Name   string
	Avatar string
}

// Generator produces identities for connections seen for the first time.
type Generator interface {
	Generate() Identity
}

// AvatarURI derives the avatar URI for a display name.
func AvatarURI(base, name string) string {
	return base + name + ".png"
}

// Faker generates random "First Last" names.
type Faker struct {
	mu         sync.Mutex
	faker      *gofakeit.Faker
	avatarBase string
}

// NewFaker creates a random name generator. A zero seed picks a random one.
func NewFaker(seed uint64, avatarBase string) *Faker {
	if avatarBase == "" {
		avatarBase = DefaultAvatarBase
	}
	return &Faker{
		faker:      gofakeit.New(seed),
		avatarBase: avatarBase,
	}
}

// Generate returns a new random identity.
func (f *Faker) Generate() Identity {
	f.mu.Lock()
	name := f.faker.FirstName() + " " + f.faker.LastName()
	f.mu.Unlock()

	return Identity{Name: name, Avatar: AvatarURI(f.avatarBase, name)}
}

// Static cycles through a fixed list of names.
type Static struct {
	mu         sync.Mutex
	names      []string
	next       int
	avatarBase string
}

// NewStatic creates a generator returning names in order, wrapping around.
func NewStatic(avatarBase string, names ...string) *Static {
	if len(names) == 0 {
		names = []string{"Ada Lovelace"}
	}
	return &Static{names: names, avatarBase: avatarBase}
}

// Generate returns the next configured name.
func (s *Static) Generate() Identity {
	s.mu.Lock()
	name := s.names[s.next%len(s.names)]
	s.next++
	s.mu.Unlock()

	return Identity{Name: name, Avatar: AvatarURI(s.avatarBase, name)}
}
