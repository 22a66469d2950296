package store

import (
	"fmt"

	"github.com/google/uuid"
)

// ImbalancedSubscriptionError reports an unsubscribe without a matching
// subscribe. It is a caller bug.
type ImbalancedSubscriptionError struct {
	Key string
	ID  uuid.UUID
}

func (e *ImbalancedSubscriptionError) Error() string {
	return fmt.Sprintf("imbalanced unsubscribe for %q (handle %s)", e.Key, e.ID)
}
