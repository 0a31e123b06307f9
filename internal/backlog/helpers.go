package backlog

import (
	"net/mail"
	"strings"
	"time"
)

func domainOf(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	addrs, err := mail.ParseAddressList(from)
	if err != nil {
		return extractDomain(from)
	}
	for _, addr := range addrs {
		if dom := extractDomain(addr.Address); dom != "" {
			return dom
		}
	}
	return ""
}

func extractDomain(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return ""
	}
	at := strings.LastIndex(address, "@")
	if at == -1 {
		return ""
	}
	domain := address[at+1:]
	return strings.Trim(domain, ".> ")
}

// messageDate prefers the parsed date and falls back to the Date header.
func messageDate(parsed time.Time, header string) time.Time {
	if !parsed.IsZero() {
		return parsed
	}
	if header == "" {
		return time.Time{}
	}
	t, err := mail.ParseDate(header)
	if err != nil {
		return time.Time{}
	}
	return t
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
