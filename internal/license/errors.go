package license

import "fmt"

// IntegrityError reports a stored license record that cannot be interpreted.
type IntegrityError struct {
	LicenseKey string
	Field      string
	Value      string
	Err        error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("license %s: invalid %s %q: %v", e.LicenseKey, e.Field, e.Value, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// StorageError reports a failure of the license store or event log.
// Op is "lookup" or "append".
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("license storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
