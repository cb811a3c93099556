package ftp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// pasvTupleRegex matches the first "(h1,h2,h3,h4,p1,p2)" tuple in a PASV
// reply message, e.g. "227 Entering Passive Mode (192,168,1,10,195,80)".
var pasvTupleRegex = regexp.MustCompile(`\((\d{1,3}),(\d{1,3}),(\d{1,3}),(\d{1,3}),(\d{1,3}),(\d{1,3})\)`)

// ParsePASV extracts the data-channel host and port from a PASV reply
// message. It fails with a *ParseError if no well-formed tuple is present or
// if any element is out of the [0,255] range.
func ParsePASV(message string) (host string, port int, err error) {
	m := pasvTupleRegex.FindStringSubmatch(message)
	if m == nil {
		return "", 0, &ParseError{What: "PASV reply", Raw: message}
	}

	nums := make([]int, 6)
	for i, s := range m[1:] {
		v, convErr := strconv.Atoi(s)
		if convErr != nil || v < 0 || v > 255 {
			return "", 0, &ParseError{What: "PASV tuple element", Raw: s}
		}
		nums[i] = v
	}

	host = fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	port = nums[4]*256 + nums[5]
	return host, port, nil
}

// FormatPORTArg formats a host/port pair into the six comma-separated
// decimals a PORT command argument requires. It is the inverse of
// ParsePASV's tuple extraction.
func FormatPORTArg(host string, port int) (string, error) {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return "", &ParseError{What: "IPv4 address", Raw: host}
	}
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return "", &ParseError{What: "IPv4 address octet", Raw: p}
		}
	}
	if port < 0 || port > 65535 {
		return "", &ParseError{What: "port", Raw: strconv.Itoa(port)}
	}

	p1 := port / 256
	p2 := port % 256
	return fmt.Sprintf("%s,%s,%s,%s,%d,%d", parts[0], parts[1], parts[2], parts[3], p1, p2), nil
}

// ParsePORTArg parses a PORT command argument, accepting either the
// canonical six comma-separated decimals or a bare "host port" pair (as
// produced by some scripting front ends); a lone host with no port requests
// an ephemeral local port (0).
func ParsePORTArg(arg string) (host string, port int, err error) {
	fields := strings.Fields(arg)
	switch len(fields) {
	case 2:
		p, convErr := strconv.Atoi(fields[1])
		if convErr != nil {
			return "", 0, &ParseError{What: "PORT argument port", Raw: arg}
		}
		return fields[0], p, nil
	case 1:
		if strings.Contains(fields[0], ",") {
			parts := strings.Split(fields[0], ",")
			if len(parts) != 6 {
				return "", 0, &ParseError{What: "PORT argument", Raw: arg}
			}
			nums := make([]int, 6)
			for i, s := range parts {
				v, convErr := strconv.Atoi(strings.TrimSpace(s))
				if convErr != nil || v < 0 || v > 255 {
					return "", 0, &ParseError{What: "PORT argument element", Raw: s}
				}
				nums[i] = v
			}
			host = fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
			port = nums[4]*256 + nums[5]
			return host, port, nil
		}
		// Bare host: ephemeral port.
		return fields[0], 0, nil
	default:
		return "", 0, &ParseError{What: "PORT argument", Raw: arg}
	}
}

// ParseSIZEReply parses the trimmed message of a 213 SIZE reply as a
// non-negative byte count. The second return value is false if the reply
// isn't a well-formed SIZE success.
func ParseSIZEReply(r *Reply) (int64, bool) {
	if r == nil || r.Code != 213 {
		return 0, false
	}
	s := strings.TrimSpace(r.Message)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// ParsePWDReply extracts the first double-quoted substring from a 257 PWD
// (or MKD) reply, e.g. `257 "/home/user" is the current directory.` ->
// "/home/user". The second return value is false if no quoted path is
// present.
func ParsePWDReply(r *Reply) (string, bool) {
	if r == nil || r.Code != 257 {
		return "", false
	}
	start := strings.IndexByte(r.Message, '"')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(r.Message[start+1:], '"')
	if end < 0 {
		return "", false
	}
	return r.Message[start+1 : start+1+end], true
}
