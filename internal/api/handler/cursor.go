package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// Cursors are base64("<unix nanos>|<id>")

func decodeCursor(cursorStr string) (time.Time, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return time.Time{}, "", err
	}

	decodedParts := strings.SplitN(string(decoded), "|", 2)
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}

	nanos, err := strconv.ParseInt(decodedParts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	return time.Unix(0, nanos).UTC(), decodedParts[1], nil
}

func encodeCursor(ts time.Time, id string) string {
	cs := fmt.Sprintf("%d|%s", ts.UnixNano(), id)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}

func DecodeRunCursor(cursorStr string) (*domain.RunCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	startedAt, runID, err := decodeCursor(cursorStr)
	if err != nil {
		return nil, err
	}

	return &domain.RunCursor{
		StartedAt: startedAt,
		RunID:     runID,
	}, nil
}

func EncodeRunCursor(cursor *domain.RunCursor) string {
	return encodeCursor(cursor.StartedAt, cursor.RunID)
}

func DecodeJobCursor(cursorStr string) (*domain.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	updatedAt, rawID, err := decodeCursor(cursorStr)
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid id in cursor: %w", err)
	}

	return &domain.JobCursor{
		UpdatedAt: updatedAt,
		ID:        id,
	}, nil
}

func EncodeJobCursor(cursor *domain.JobCursor) string {
	return encodeCursor(cursor.UpdatedAt, strconv.FormatInt(cursor.ID, 10))
}
