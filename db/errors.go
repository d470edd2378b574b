package db

import "fmt"

// Common errors
var (
	ErrRunNotFound        = fmt.Errorf("mining run not found")
	ErrInvalidInput       = fmt.Errorf("invalid input")
	ErrDatabaseConnection = fmt.Errorf("database connection error")
	ErrTransactionFailed  = fmt.Errorf("transaction failed")
	ErrUnsupportedDriver  = fmt.Errorf("unsupported database driver")
)
