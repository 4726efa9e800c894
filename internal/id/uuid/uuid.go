// Package uuid provides the UUID implementation of ingest.IDGenerator.
package uuid

import (
	"fmt"

	guuid "github.com/google/uuid"
)

// Generator produces random UUIDv4 ids.
type Generator struct{}

// NewID implements ingest.IDGenerator.
func (Generator) NewID() (string, error) {
	id, err := guuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}
