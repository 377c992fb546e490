package sessionsync

import "github.com/google/uuid"

func newIdempotencyKey() string {
	return uuid.NewString()
}
