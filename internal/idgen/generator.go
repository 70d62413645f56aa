// Package idgen produces document ids for messages, posts and client
// correlation ids.
package idgen

import "fmt"

// Generator produces unique string ids.
type Generator interface {
	Generate() (string, error)
	Validate(id string) error
}

// Config selects the id scheme.
type Config struct {
	Type           string `mapstructure:"type"` // ulid, ksuid, nanoid, uuid
	NanoIDSize     int    `mapstructure:"nanoid_size"`
	NanoIDAlphabet string `mapstructure:"nanoid_alphabet"`
}

// New returns the generator named by cfg.Type. ULID is the default because
// its ids sort by creation time.
func New(cfg Config) (Generator, error) {
	switch cfg.Type {
	case "", "ulid":
		return NewULIDGenerator(), nil
	case "ksuid":
		return NewKSUIDGenerator(), nil
	case "uuid":
		return NewUUIDGenerator(), nil
	case "nanoid":
		size := cfg.NanoIDSize
		if size == 0 {
			size = DefaultNanoIDSize
		}
		alphabet := cfg.NanoIDAlphabet
		if alphabet == "" {
			alphabet = DefaultNanoIDAlphabet
		}
		return NewNanoIDGenerator(size, alphabet)
	default:
		return nil, fmt.Errorf("unsupported id generator type: %s", cfg.Type)
	}
}

// MustGenerate panics when g fails. The generators here only fail when the
// system entropy source does.
func MustGenerate(g Generator) string {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}
