package types

import "strings"

type Method int

const (
	MethodUnset Method = iota
	MethodGET
	MethodHEAD
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodOPTIONS
	MethodPATCH
	MethodTRACE
	MethodCONNECT
)

var methodNames = [...]string{
	MethodUnset:   "",
	MethodGET:     "GET",
	MethodHEAD:    "HEAD",
	MethodPOST:    "POST",
	MethodPUT:     "PUT",
	MethodDELETE:  "DELETE",
	MethodOPTIONS: "OPTIONS",
	MethodPATCH:   "PATCH",
	MethodTRACE:   "TRACE",
	MethodCONNECT: "CONNECT",
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return ""
	}
	return methodNames[m]
}

// ParseMethod is case-sensitive: RFC 9110 method tokens are.
func ParseMethod(s string) Method {
	for i, name := range methodNames {
		if i != int(MethodUnset) && name == s {
			return Method(i)
		}
	}
	return MethodUnset
}

type Version int

const (
	VersionUnset Version = iota
	Version10
	Version11
)

func (v Version) String() string {
	switch v {
	case Version10:
		return "HTTP/1.0"
	case Version11:
		return "HTTP/1.1"
	default:
		return ""
	}
}

func ParseVersion(s string) Version {
	switch s {
	case "HTTP/1.0":
		return Version10
	case "HTTP/1.1":
		return Version11
	default:
		return VersionUnset
	}
}

type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

func ParseLogFormat(s string) (LogFormat, bool) {
	switch LogFormat(strings.ToLower(s)) {
	case LogFormatJSON:
		return LogFormatJSON, true
	case LogFormatConsole:
		return LogFormatConsole, true
	default:
		return "", false
	}
}
