package router

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/coop/internal/types"
)

// UserIdentity binds a configured user to a trust level and the set of
// "<channel>:<target>" patterns that identify them across channels.
type UserIdentity struct {
	Name  string
	Trust types.TrustLevel
	Match []string
}

// IdentityResolver maps an inbound message to a configured user's name and
// trust level, falling back to TrustPublic for anyone unmatched.
type IdentityResolver struct {
	users []UserIdentity
}

// NewIdentityResolver builds a resolver over the configured users. Order
// matters only in that the first matching pattern wins.
func NewIdentityResolver(users []UserIdentity) *IdentityResolver {
	return &IdentityResolver{users: append([]UserIdentity(nil), users...)}
}

// Resolve returns the matched user's name and trust, or ("", TrustPublic) if
// no configured pattern matches the inbound identity.
func (r *IdentityResolver) Resolve(in Inbound) (name string, trust types.TrustLevel) {
	identity := identityString(in)
	for _, u := range r.users {
		for _, pattern := range u.Match {
			if strings.EqualFold(pattern, identity) {
				return u.Name, u.Trust
			}
		}
	}
	return "", types.TrustPublic
}

// identityString builds the "<channel>:<target>" string an inbound message
// is matched against: the chat ID for groups, the sender for DMs.
func identityString(in Inbound) string {
	if in.IsGroup {
		return fmt.Sprintf("%s:%s", in.Channel, in.ChatID)
	}
	return fmt.Sprintf("%s:%s", in.Channel, in.Sender)
}
