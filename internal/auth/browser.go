package auth

import (
	"fmt"

	"github.com/skratchdot/open-golang/open"
)

// OpenBrowser opens url in the user's default browser without waiting for it.
func OpenBrowser(url string) error {
	if err := open.Start(url); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
