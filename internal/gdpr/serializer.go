// Package gdpr exposes the profile read and erasure API the identity
// provider's data broker calls on behalf of the person: fetch everything we
// store about a profile, or delete the account.
package gdpr

import (
	"tunnus/internal/identity"
)

// Node is one element of the export tree. Branches carry a name and
// children; leaves carry a key and value. Field names follow the profile
// broker's expected format, with upper-cased keys.
type Node struct {
	Name     string `json:"name,omitempty"`
	Children []Node `json:"children,omitempty"`
	Key      string `json:"key,omitempty"`
	Value    any    `json:"value,omitempty"`
}

func leaf(key string, value any) Node {
	return Node{Key: key, Value: value}
}

// serializeProfile builds the export payload: the account fields plus the
// privacy-scoped slice of the authorization metadata. Digests are excluded
// from the export on purpose; they are pseudonymization controls, not
// personal data the broker needs back.
func serializeProfile(user identity.User, authorization *identity.Authorization) []Node {
	nodes := []Node{userNode(user)}
	if authNode, ok := authorizationNode(authorization); ok {
		nodes = append(nodes, authNode)
	}
	return nodes
}

func userNode(user identity.User) Node {
	children := []Node{
		leaf("ID", user.ID.String()),
		leaf("EMAIL", user.Email),
		leaf("NAME", user.Name),
		leaf("NICKNAME", user.Nickname),
		leaf("CREATED_AT", user.CreatedAt),
	}
	if user.Locale != "" {
		children = append(children, leaf("LOCALE", user.Locale))
	}
	return Node{Name: "USER", Children: children}
}

func authorizationNode(authorization *identity.Authorization) (Node, bool) {
	if authorization == nil || authorization.GrantedAt.IsZero() {
		return Node{}, false
	}

	meta := authorization.Metadata
	var children []Node
	if meta.Gender != "" {
		children = append(children, leaf("GENDER", meta.Gender))
	}
	if meta.DateOfBirth != "" {
		children = append(children, leaf("DATE_OF_BIRTH", meta.DateOfBirth))
	}
	if meta.PostalCode != "" {
		children = append(children, leaf("POSTAL_CODE", meta.PostalCode))
	}
	if meta.Municipality != "" {
		children = append(children, leaf("MUNICIPALITY", meta.Municipality))
	}
	if len(children) == 0 {
		return Node{}, false
	}
	return Node{Name: "AUTHORIZATIONS", Children: children}, true
}
