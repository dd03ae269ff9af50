package engine

import (
	"fmt"
	"strings"
)

// Address is a structured SIP address.
type Address struct {
	DisplayName string
	Username    string
	Domain      string
	Port        int
	Transport   string
}

// String renders the address as a SIP URI without display name.
func (a Address) String() string {
	var b strings.Builder
	b.WriteString("sip:")
	if a.Username != "" {
		b.WriteString(a.Username)
		b.WriteByte('@')
	}
	b.WriteString(a.Domain)
	if a.Port > 0 {
		fmt.Fprintf(&b, ":%d", a.Port)
	}
	if a.Transport != "" {
		b.WriteString(";transport=")
		b.WriteString(strings.ToLower(a.Transport))
	}
	return b.String()
}

// WeakEqual compares username, domain and port only.
// A zero port matches the default SIP port.
func (a Address) WeakEqual(o Address) bool {
	if a.Username != o.Username {
		return false
	}
	if !strings.EqualFold(a.Domain, o.Domain) {
		return false
	}
	return normalizePort(a.Port) == normalizePort(o.Port)
}

func (a Address) IsZero() bool {
	return a.Username == "" && a.Domain == ""
}

func normalizePort(p int) int {
	if p == 0 {
		return 5060
	}
	return p
}
