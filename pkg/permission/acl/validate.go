package acl

import (
	"errors"
	"fmt"
)

var (
	// ErrACETooMany is returned when an ACL exceeds MaxACECount.
	ErrACETooMany = errors.New("ACL exceeds maximum ACE count")

	// ErrACEInvalidType is returned for unrecognized ACE types.
	ErrACEInvalidType = errors.New("invalid ACE type")

	// ErrACEEmptyWho is returned when an ACE has an empty Who field.
	ErrACEEmptyWho = errors.New("ACE has empty Who field")
)

// Validate checks the entry count and every entry. A nil ACL is valid.
func Validate(a *ACL) error {
	if a == nil {
		return nil
	}
	if len(a.ACEs) > MaxACECount {
		return fmt.Errorf("%w: %d ACEs (maximum %d)", ErrACETooMany, len(a.ACEs), MaxACECount)
	}
	for i := range a.ACEs {
		if err := ValidateACE(&a.ACEs[i]); err != nil {
			return fmt.Errorf("ACE %d: %w", i, err)
		}
	}
	return nil
}

// ValidateACE checks an entry's type and who.
func ValidateACE(ace *ACE) error {
	if ace.Type > ACE4_SYSTEM_ALARM_ACE_TYPE {
		return fmt.Errorf("%w: %d", ErrACEInvalidType, ace.Type)
	}
	if ace.Who == "" {
		return ErrACEEmptyWho
	}
	return nil
}
