package mediaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultListLimit is the page size used by ListFiles when none is given.
const DefaultListLimit = 12

const fileIDPrefix = "file_"

// File is an uploaded media file.
type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	Folder   string `json:"folder,omitempty"`
	URL      string `json:"url,omitempty"`
	Status   string `json:"status,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Filesize int64  `json:"filesize,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// IsFile reports whether the payload is a finished file rather than a task
// or a placeholder: a `file_` id and a playable url.
func (f File) IsFile() bool {
	return strings.HasPrefix(f.ID, fileIDPrefix) && f.URL != ""
}

// UnmarshalJSON keeps the original payload next to the decoded fields.
func (f *File) UnmarshalJSON(data []byte) error {
	type plain File
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = File(p)
	f.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON passes the upstream payload through untouched when available.
func (f File) MarshalJSON() ([]byte, error) {
	if len(f.Raw) > 0 {
		return f.Raw, nil
	}
	type plain File
	return json.Marshal(plain(f))
}

// FileFromURLRequest is the body of POST /files.
type FileFromURLRequest struct {
	URL      string `json:"url"`
	Folder   string `json:"folder,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type renameRequest struct {
	Filename string `json:"filename"`
}

// ListFiles returns up to limit files. The payload may be a bare array or an
// object holding the array under `data`; anything else yields an empty list.
func (c *Client) ListFiles(ctx context.Context, limit int) ([]File, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/files?limit=%d", limit), nil)
	if err != nil {
		return nil, err
	}

	return decodeFileList(resp.Payload), nil
}

func decodeFileList(payload json.RawMessage) []File {
	files := []File{}
	if err := json.Unmarshal(payload, &files); err == nil {
		return files
	}

	var nested struct {
		Data []File `json:"data"`
	}
	if err := json.Unmarshal(payload, &nested); err == nil && nested.Data != nil {
		return nested.Data
	}

	return []File{}
}

// RenameFile changes the filename of id.
func (c *Client) RenameFile(ctx context.Context, id, filename string) (File, error) {
	if id == "" {
		return File{}, fmt.Errorf("file id must not be empty")
	}

	resp, err := c.do(ctx, http.MethodPatch, "/files/"+url.PathEscape(id), renameRequest{Filename: filename})
	if err != nil {
		return File{}, err
	}

	var file File
	if resp.IsEmpty() {
		return file, nil
	}
	if err := resp.Decode(&file); err != nil {
		return File{}, err
	}
	return file, nil
}

// DeleteFile removes id and returns whatever the API answered with.
func (c *Client) DeleteFile(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, fmt.Errorf("file id must not be empty")
	}

	resp, err := c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// CreateFileFromURL asks the API to ingest a remote URL synchronously. Only
// a finished File is accepted; anything else is a ProtocolError.
func (c *Client) CreateFileFromURL(ctx context.Context, request FileFromURLRequest) (File, error) {
	resp, err := c.do(ctx, http.MethodPost, "/files", request)
	if err != nil {
		return File{}, err
	}

	var file File
	if err := resp.Decode(&file); err != nil {
		return File{}, err
	}
	if !file.IsFile() {
		return File{}, &ProtocolError{Reason: "Not a File payload", Body: string(resp.Payload)}
	}
	return file, nil
}
