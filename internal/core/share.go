package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
)

// ShareParam is the query parameter carrying a shared chat.
const ShareParam = "chat"

// SharedChat is the self-contained payload of a share link.
type SharedChat struct {
	Title    string          `json:"title"`
	Messages []store.Message `json:"messages"`
}

// EncodeShare encodes title and messages as unpadded URL-safe base64 JSON.
func EncodeShare(title string, messages []store.Message) (string, error) {
	if messages == nil {
		messages = []store.Message{}
	}
	data, err := json.Marshal(SharedChat{Title: title, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal shared chat: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeShare reverses EncodeShare. Standard base64 and padded input are
// accepted too. Any failure wraps ErrInvalidShare.
func DecodeShare(blob string) (SharedChat, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return SharedChat{}, fmt.Errorf("empty payload: %w", ErrInvalidShare)
	}

	data, err := decodeBase64(blob)
	if err != nil {
		return SharedChat{}, fmt.Errorf("%v: %w", err, ErrInvalidShare)
	}

	var chat SharedChat
	if err := json.Unmarshal(data, &chat); err != nil {
		return SharedChat{}, fmt.Errorf("%v: %w", err, ErrInvalidShare)
	}
	if chat.Messages == nil {
		return SharedChat{}, fmt.Errorf("missing messages: %w", ErrInvalidShare)
	}
	for i, m := range chat.Messages {
		if m.Role != store.RoleUser && m.Role != store.RoleModel {
			return SharedChat{}, fmt.Errorf("message %d has role %q: %w", i, m.Role, ErrInvalidShare)
		}
	}
	return chat, nil
}

func decodeBase64(blob string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(blob)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// ShareURL builds <base>/?chat=<blob>.
func ShareURL(baseURL, blob string) string {
	q := url.Values{}
	q.Set(ShareParam, blob)
	return strings.TrimRight(baseURL, "/") + "/?" + q.Encode()
}

// ShareBlob extracts the blob from a full share URL, or returns raw as is
// when it is not a URL carrying the parameter.
func ShareBlob(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	if blob := u.Query().Get(ShareParam); blob != "" {
		return blob
	}
	return raw
}
