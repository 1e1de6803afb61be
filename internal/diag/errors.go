package diag

import (
	"errors"
	"fmt"
)

// ErrInternal marks engine bugs: invariant violations that must fail loudly
// rather than surface as user diagnostics.
var ErrInternal = errors.New("internal error")

// Internalf wraps ErrInternal with a formatted description.
func Internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}
