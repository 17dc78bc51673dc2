package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakerGeneratesFirstLast(t *testing.T) {
	f := NewFaker(42, "")

	id := f.Generate()
	parts := strings.Split(id.Name, " ")
	assert.Len(t, parts, 2)
	assert.Equal(t, DefaultAvatarBase+id.Name+".png", id.Avatar)
}

func TestFakerSeedIsDeterministic(t *testing.T) {
	a := NewFaker(7, "/a/").Generate()
	b := NewFaker(7, "/a/").Generate()
	assert.Equal(t, a, b)
}

func TestStaticCycles(t *testing.T) {
	s := NewStatic("/avatars/", "Ada Lovelace", "Alan Turing")

	assert.Equal(t, Identity{Name: "Ada Lovelace", Avatar: "/avatars/Ada Lovelace.png"}, s.Generate())
	assert.Equal(t, "Alan Turing", s.Generate().Name)
	assert.Equal(t, "Ada Lovelace", s.Generate().Name)
}
