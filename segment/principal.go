package segment

import (
	"os/user"

	"github.com/ghetzel/go-stockutil/sliceutil"
)

// Principal identifies a participant asking the segment manager for access.
// Groups is ordered the same way the OS reports group membership for this
// user; that order determines which segment wins the legacy group-name
// fallback in WritableSegmentForUser when more than one matches (spec §9
// Open Questions — preserved verbatim, not normalized).
type Principal struct {
	Name   string
	Groups []string
}

// CurrentPrincipal resolves the OS user running this process into a
// Principal, in the group order os/user returns.
func CurrentPrincipal() (Principal, error) {
	u, err := user.Current()
	if err != nil {
		return Principal{}, err
	}

	gids, err := u.GroupIds()
	if err != nil {
		return Principal{}, err
	}

	groups := make([]string, 0, len(gids))
	for _, gid := range gids {
		if g, err := user.LookupGroupId(gid); err == nil {
			groups = append(groups, g.Name)
		}
	}

	return Principal{Name: u.Username, Groups: groups}, nil
}

// In reports whether the principal belongs to the named group.
func (p Principal) In(group string) bool {
	if group == "" {
		return false
	}
	return sliceutil.ContainsString(p.Groups, group)
}
