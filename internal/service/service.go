package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotStarted  = errors.New("service not started")
	ErrInvalidName = errors.New("invalid index or document name")
)

// CheckName rejects index names and document ids which would address
// another path of the backend once placed in a request URL.
func CheckName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ManagementService owns the backend connection.
type ManagementService interface {
	Start(ctx context.Context) error
	Close() error
	// Version returns the backend version obtained by Start.
	Version() string
}

// DocumentService provisions indices and submits documents.
type DocumentService interface {
	Start(ctx context.Context) error
	Close() error
	CreateSchema(ctx context.Context) error
	Index(ctx context.Context, index, id string, doc any) error
	Delete(ctx context.Context, index, id string) error
	Started() bool
}
