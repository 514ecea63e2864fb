package app

import "fmt"

// DomainError is an error the HTTP layer knows how to render: mapError
// turns it into the {code, error, details} envelope with Status as the
// response code. Anything else becomes a 500.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// domainError keeps call sites to one line; Details may be nil.
func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
