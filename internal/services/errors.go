package services

import (
	"errors"

	"github.com/BradenHooton/sessionguard/internal/models"
)

// storageErr passes repository sentinels through unchanged and marks
// anything else as a storage failure so the cause never reaches a client.
func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrUsed),
		errors.Is(err, models.ErrDuplicateToken):
		return err
	default:
		return models.StorageError(op, err)
	}
}
