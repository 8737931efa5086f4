// Package utils provides shared helpers used across the bot.
package utils

import "strings"

// NormalizeAddress lowercases and trims an Ethereum address so that wallet
// comparisons and map lookups are case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.TrimSpace(strings.ToLower(addr))
}

// ShortAddress returns a truncated address for log output (0x1234...5678).
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
