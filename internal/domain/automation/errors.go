package automation

import "fmt"

var ErrNotFound = fmt.Errorf("automation record not found")
var ErrAlreadyExists = fmt.Errorf("automation record already exists")

// ErrInvalidTransition is returned when a state machine precondition is violated.
var ErrInvalidTransition = fmt.Errorf("invalid automation transition")

// ErrConcurrencyConflict means the record changed between read and write.
// The sweep absorbs it; control operations retry a few times.
var ErrConcurrencyConflict = fmt.Errorf("automation record modified concurrently")
