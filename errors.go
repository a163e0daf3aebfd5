package mysqlkit

import "fmt"

// ProvisioningError reports a failed statement while creating the login or the
// databases. Statement never contains the password.
type ProvisioningError struct {
	Statement string
	Err       error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("failed to provision embedded mysql: %s: %v", e.Statement, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
