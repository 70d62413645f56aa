package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// UUIDGenerator produces version 7 UUIDs, which sort by creation time.
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) Generate() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

func (g *UUIDGenerator) Validate(id string) error {
	if err := uuid.Validate(id); err != nil {
		return fmt.Errorf("invalid UUID %q: %w", id, err)
	}
	return nil
}
