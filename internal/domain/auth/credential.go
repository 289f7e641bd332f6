package auth

import "strings"

// Credential is an opaque bearer token. The empty Credential means none was presented.
type Credential string

// IsEmpty reports whether no credential was presented.
func (c Credential) IsEmpty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// bearerScheme is the Authorization scheme prefix. Matching is case-insensitive.
const bearerScheme = "bearer "

// ParseBearer extracts the credential from an Authorization header value.
// A missing header, another scheme or an empty token yields the empty Credential.
func ParseBearer(header string) Credential {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerScheme) || !strings.EqualFold(header[:len(bearerScheme)], bearerScheme) {
		return ""
	}
	return Credential(strings.TrimSpace(header[len(bearerScheme):]))
}
