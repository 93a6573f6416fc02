package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/storage"
)

// DecodeRunCursor parses an opaque pagination cursor. An empty cursor means
// the first page.
func DecodeRunCursor(cursorStr string) (*storage.RunCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at in cursor: %w", err)
	}

	return &storage.RunCursor{
		CreatedAt:     time.Unix(0, createdAt),
		CorrelationID: parts[1],
	}, nil
}

// EncodeRunCursor renders the keyset position as an opaque string.
func EncodeRunCursor(cursor *storage.RunCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.CorrelationID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
