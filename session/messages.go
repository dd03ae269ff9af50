package session

import (
	"fmt"

	"sipphone/engine"
)

// Messages are the user-facing texts. Empty fields fall back to English.
type Messages struct {
	NetworkUnreachable     string
	UserBusy               string
	IOError                string
	AccountNotSetUp        string
	IncompatibleMedia      string
	UserNotFound           string
	ServerTimeout          string
	TemporarilyUnavailable string
	// GenericError is a format taking the protocol code and phrase.
	GenericError string
	CallDeclined string
}

// DefaultMessages returns the English texts.
func DefaultMessages() Messages {
	return Messages{
		NetworkUnreachable:     "Network is unreachable",
		UserBusy:               "User is busy",
		IOError:                "Service unavailable or network error",
		AccountNotSetUp:        "Account not set up",
		IncompatibleMedia:      "Incompatible media parameters",
		UserNotFound:           "User not found",
		ServerTimeout:          "Server timeout",
		TemporarilyUnavailable: "Temporarily unavailable",
		GenericError:           "Error: %d %s",
		CallDeclined:           "Call declined",
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&m.NetworkUnreachable, d.NetworkUnreachable)
	fill(&m.UserBusy, d.UserBusy)
	fill(&m.IOError, d.IOError)
	fill(&m.AccountNotSetUp, d.AccountNotSetUp)
	fill(&m.IncompatibleMedia, d.IncompatibleMedia)
	fill(&m.UserNotFound, d.UserNotFound)
	fill(&m.ServerTimeout, d.ServerTimeout)
	fill(&m.TemporarilyUnavailable, d.TemporarilyUnavailable)
	fill(&m.GenericError, d.GenericError)
	fill(&m.CallDeclined, d.CallDeclined)
	return m
}

// ErrorCategory is the user-facing class of a call failure.
type ErrorCategory string

const (
	CategoryNetworkUnreachable     ErrorCategory = "network_unreachable"
	CategoryBusy                   ErrorCategory = "busy"
	CategoryIOError                ErrorCategory = "io_error"
	CategoryAccountNotSetUp        ErrorCategory = "account_not_set_up"
	CategoryNotAcceptable          ErrorCategory = "not_acceptable"
	CategoryNotFound               ErrorCategory = "not_found"
	CategoryServerTimeout          ErrorCategory = "server_timeout"
	CategoryTemporarilyUnavailable ErrorCategory = "temporarily_unavailable"
	CategoryOther                  ErrorCategory = "other"
)

// Classify maps an engine failure to a category. An I/O error without a
// configured identity domain is reported as a missing account.
func Classify(info engine.ErrorInfo, domainConfigured bool) ErrorCategory {
	switch info.Reason {
	case engine.ReasonBusy:
		return CategoryBusy
	case engine.ReasonIOError:
		if !domainConfigured {
			return CategoryAccountNotSetUp
		}
		return CategoryIOError
	case engine.ReasonNotAcceptable:
		return CategoryNotAcceptable
	case engine.ReasonNotFound:
		return CategoryNotFound
	case engine.ReasonServerTimeout:
		return CategoryServerTimeout
	case engine.ReasonTemporarilyUnavailable:
		return CategoryTemporarilyUnavailable
	}
	return CategoryOther
}

// Text returns the message for a category.
func (m Messages) Text(cat ErrorCategory, info engine.ErrorInfo) string {
	switch cat {
	case CategoryNetworkUnreachable:
		return m.NetworkUnreachable
	case CategoryBusy:
		return m.UserBusy
	case CategoryIOError:
		return m.IOError
	case CategoryAccountNotSetUp:
		return m.AccountNotSetUp
	case CategoryNotAcceptable:
		return m.IncompatibleMedia
	case CategoryNotFound:
		return m.UserNotFound
	case CategoryServerTimeout:
		return m.ServerTimeout
	case CategoryTemporarilyUnavailable:
		return m.TemporarilyUnavailable
	}
	return fmt.Sprintf(m.GenericError, info.ProtocolCode, info.Phrase)
}
