package pagination

import (
	"encoding/base64"
	"encoding/json"
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=10" validate:"gte=1,lte=250"`
}

// Cursor is the opaque page token payload. Ordering is by creation
// time with the snowflake ID as tiebreaker.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo derives page info from an over-fetched result
// slice. Callers fetch pageSize+1 rows; the extra row signals has_more
// and the last visible row becomes the next page token.
func BuildCursorPageInfo[T any](data []T, pageSize int, cursorOf func(T) Cursor) PageInfo {
	if pageSize <= 0 || len(data) <= pageSize {
		return PageInfo{}
	}

	token, err := EncodeCursor(cursorOf(data[pageSize-1]))
	if err != nil {
		return PageInfo{}
	}

	return PageInfo{
		NextPageToken: token,
		HasMore:       true,
	}
}
