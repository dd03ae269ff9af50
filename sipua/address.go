package sipua

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"

	"sipphone/engine"
)

func maybe(s sip.MaybeString) string {
	if s == nil {
		return ""
	}
	return s.String()
}

// fromURI converts a gosip URI into an engine address.
func fromURI(uri sip.Uri, display sip.MaybeString) engine.Address {
	addr := engine.Address{
		DisplayName: maybe(display),
		Username:    maybe(uri.User()),
		Domain:      uri.Host(),
	}
	if p := uri.Port(); p != nil {
		addr.Port = int(*p)
	}
	if params := uri.UriParams(); params != nil {
		if tp, ok := params.Get("transport"); ok {
			addr.Transport = maybe(tp)
		}
	}
	return addr
}

// parseAddress parses a SIP URI string.
func parseAddress(raw string) (engine.Address, error) {
	uri, err := parser.ParseUri(raw)
	if err != nil {
		return engine.Address{}, fmt.Errorf("parse uri %q: %w", raw, err)
	}
	return fromURI(uri, nil), nil
}

// toURI renders addr as a gosip URI.
func toURI(addr engine.Address) (sip.Uri, error) {
	uri, err := parser.ParseUri(addr.String())
	if err != nil {
		return nil, fmt.Errorf("parse uri %q: %w", addr.String(), err)
	}
	return uri, nil
}

// toSIPAddress renders addr as a From/To style address.
func toSIPAddress(addr engine.Address) (*sip.Address, error) {
	uri, err := toURI(addr)
	if err != nil {
		return nil, err
	}
	a := &sip.Address{Uri: uri, Params: sip.NewParams()}
	if addr.DisplayName != "" {
		a.DisplayName = sip.String{Str: addr.DisplayName}
	}
	return a, nil
}

// InterpretAddress turns user input into an address. Bare usernames and
// phone numbers are completed with the default domain. Nil is returned
// when the input cannot be interpreted.
func (e *Engine) InterpretAddress(raw string) *engine.Address {
	addr, err := interpret(raw, e.cfg.DefaultDomain)
	if err != nil {
		e.log.Warnf("cannot interpret address %q: %v", raw, err)
		return nil
	}
	return &addr
}

func interpret(raw, defaultDomain string) (engine.Address, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return engine.Address{}, fmt.Errorf("empty address")
	}
	if i := strings.Index(s, "<"); i >= 0 {
		j := strings.Index(s[i:], ">")
		if j < 0 {
			return engine.Address{}, fmt.Errorf("unterminated angle bracket")
		}
		display := strings.Trim(strings.TrimSpace(s[:i]), `"`)
		addr, err := interpret(s[i+1:i+j], defaultDomain)
		if err != nil {
			return addr, err
		}
		addr.DisplayName = display
		return addr, nil
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "sip:"), strings.HasPrefix(lower, "sips:"):
	case strings.Contains(s, "@"):
		s = "sip:" + s
	default:
		if defaultDomain == "" {
			return engine.Address{}, fmt.Errorf("no domain for %q", s)
		}
		s = "sip:" + normalizeNumber(s) + "@" + defaultDomain
	}
	addr, err := parseAddress(s)
	if err != nil {
		return addr, err
	}
	if addr.Domain == "" {
		return addr, fmt.Errorf("no domain in %q", s)
	}
	return addr, nil
}

// normalizeNumber strips dialing punctuation from phone-number-like input.
func normalizeNumber(s string) string {
	digits := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
	if _, err := strconv.ParseUint(strings.TrimPrefix(digits, "+"), 10, 64); err == nil {
		return digits
	}
	return s
}
