// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxMessageLength = 420
	maxTitleLength   = 80
)

func downloadMessage(email, downloadPageURL, appName string) Message {
	name := strings.TrimSpace(appName)
	if name == "" {
		name = "your app"
	}

	lines := []string{
		fmt.Sprintf("Thanks for buying %s.", name),
		formatLine("Download", downloadPageURL),
		"The link expires after a limited time and number of downloads.",
	}

	return Message{
		To:    strings.TrimSpace(email),
		Title: "Your download: " + name,
		Body:  buildMessage(lines),
	}
}

func formatLine(label, value string) string {
	trimmedLabel := strings.TrimSpace(label)
	trimmedValue := strings.TrimSpace(value)
	if trimmedLabel == "" || trimmedValue == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", trimmedLabel, trimmedValue)
}

func buildMessage(lines []string) string {
	payload := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			payload = append(payload, trimmed)
		}
	}
	return strings.Join(payload, "\n")
}

func truncateMessage(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if utf8.RuneCountInString(trimmed) <= limit {
		return trimmed
	}
	runes := []rune(trimmed)
	if limit <= 1 {
		return string(runes[:limit])
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
