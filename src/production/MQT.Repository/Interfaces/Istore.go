package interfaces

import "context"

// Store is an opened backend holding readings and the reference directory
type Store interface {
	Readings() ReadingRepository
	References() ReferenceRepository

	// Init creates collections, tables and indexes that are missing
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	Driver() string
}
