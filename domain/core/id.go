package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	// SubjectID identifies one subject in the population. Lexicographic
	// ordering of subject ids fixes the matcher's deterministic
	// processing order, so ids must be stable across runs.
	SubjectID string

	// RunID identifies one matching run
	RunID ID

	// CovariateKey names a covariate column
	CovariateKey string
)

func (id SubjectID) String() string   { return string(id) }
func (id RunID) String() string       { return ID(id).String() }
func (k CovariateKey) String() string { return string(k) }

// ParseSubjectID parses a string into SubjectID
func ParseSubjectID(s string) (SubjectID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("subject ID cannot be empty")
	}
	return SubjectID(s), nil
}
