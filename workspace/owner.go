package workspace

import (
	"fmt"
	"os"
)

// reconcileOwner chowns p to the configured storage owner. A no-op
// unless WithOwner was set. Bind-mounted workspaces created by a
// privileged supervisor are otherwise unwritable for the container's
// unprivileged user on hosts without userns remapping.
func (s *Store) reconcileOwner(p string) error {
	if s.uid < 0 {
		return nil
	}
	if err := os.Chown(p, s.uid, s.gid); err != nil {
		return fmt.Errorf("chown %s to %d:%d: %w", p, s.uid, s.gid, err)
	}
	return nil
}
