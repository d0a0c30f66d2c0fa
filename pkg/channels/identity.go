package channels

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/mirabase/pkg/profile"
)

// UserID maps a channel sender to its profile id, "<channel>:<sender>".
func UserID(channel, senderID string) (string, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	senderID = strings.TrimSpace(senderID)
	if channel == "" || senderID == "" {
		return "", fmt.Errorf("%w: empty channel or sender", profile.ErrInvalidUserID)
	}
	if strings.Contains(channel, ":") {
		return "", fmt.Errorf("%w: channel %q", profile.ErrInvalidUserID, channel)
	}
	id := channel + ":" + senderID
	if err := profile.ValidateUserID(id); err != nil {
		return "", err
	}
	return id, nil
}

// SplitUserID is the inverse of UserID. ok is false for ids that do not
// belong to a channel, such as local CLI users.
func SplitUserID(userID string) (channel, senderID string, ok bool) {
	channel, senderID, ok = strings.Cut(userID, ":")
	if !ok || channel == "" || senderID == "" {
		return "", "", false
	}
	return channel, senderID, true
}
