package util

import "github.com/google/uuid"

// NewReqID genera un identificador para correlacionar una conexión en los
// logs. UUIDv7: ordenable por tiempo de llegada.
func NewReqID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
