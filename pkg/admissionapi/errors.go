package admissionapi

import "errors"

var ErrServiceNil = errors.New("admission service cannot be nil")
