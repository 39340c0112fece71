package mediaapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// DefaultUploadFolder is where simple signed uploads land.
const DefaultUploadFolder = "uploads"

// SignatureRequest is the body of POST /signatures.
type SignatureRequest struct {
	Filename  string             `json:"filename"`
	Folder    string             `json:"folder,omitempty"`
	Method    string             `json:"method"`
	Resumable bool               `json:"resumable,omitempty"`
	Expiry    int64              `json:"expiry"`
	Metadata  *SignatureMetadata `json:"metadata,omitempty"`
}

// SignatureMetadata is attached to the file created by a signed upload.
type SignatureMetadata struct {
	Title string `json:"title"`
}

// Signature is a signed URL returned by the API.
type Signature struct {
	URL      string `json:"url"`
	Method   string `json:"method,omitempty"`
	Expiry   int64  `json:"expiry,omitempty"`
	Filename string `json:"filename,omitempty"`
	Folder   string `json:"folder,omitempty"`
	File     *File  `json:"file,omitempty"`

	// Raw is the unwrapped payload exactly as the API sent it.
	Raw json.RawMessage `json:"-"`
}

// MarshalJSON passes the upstream payload through untouched when available.
func (s Signature) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	type plain Signature
	return json.Marshal(plain(s))
}

// Session is a resumable upload session descriptor. It authorizes one
// bounded sequence of partial writes and is never reused.
type Session struct {
	URL      string
	FileURL  string
	Expiry   time.Time
	Filename string
	Folder   string
}

// BaseURL is the session URL without its query component.
func (s Session) BaseURL() string {
	return strings.SplitN(s.URL, "?", 2)[0]
}

// CreateSignature posts a signature request as is.
func (c *Client) CreateSignature(ctx context.Context, request SignatureRequest) (Signature, error) {
	resp, err := c.do(ctx, http.MethodPost, "/signatures", request)
	if err != nil {
		return Signature{}, err
	}

	var sig Signature
	if err := resp.Decode(&sig); err != nil {
		return Signature{}, err
	}
	if sig.URL == "" {
		return Signature{}, &ProtocolError{Reason: "signature response has no url", Body: string(resp.Payload)}
	}
	sig.Raw = resp.Payload

	return sig, nil
}

// SignUpload signs a single PUT of the whole file.
func (c *Client) SignUpload(ctx context.Context, filename, folder string) (Signature, error) {
	return c.signPut(ctx, filename, folder, false, c.config.UploadExpiry)
}

// SignPut signs a short lived single PUT with an inferred filename.
func (c *Client) SignPut(ctx context.Context, filename, folder string) (Signature, error) {
	return c.signPut(ctx, filename, folder, false, c.config.PutExpiry)
}

// SignDownload signs a GET for private playback.
func (c *Client) SignDownload(ctx context.Context, filename, folder string) (Signature, error) {
	return c.CreateSignature(ctx, SignatureRequest{
		Filename: filename,
		Folder:   folder,
		Method:   "get",
		Expiry:   c.expiry(c.config.DownloadExpiry),
	})
}

// SignResumable signs a resumable PUT and returns the raw signature.
func (c *Client) SignResumable(ctx context.Context, filename, folder string) (Signature, error) {
	return c.signPut(ctx, filename, folder, true, c.config.ResumableExpiry)
}

// CreateResumableSession requests a one-time upload session for filename in folder.
func (c *Client) CreateResumableSession(ctx context.Context, filename, folder string) (Session, error) {
	sig, err := c.SignResumable(ctx, filename, folder)
	if err != nil {
		return Session{}, err
	}

	session := Session{
		URL:      sig.URL,
		Filename: sig.Filename,
		Folder:   sig.Folder,
	}
	if session.Filename == "" {
		session.Filename = InferFilename(filename)
	}
	if sig.File != nil {
		session.FileURL = sig.File.URL
	}
	if sig.Expiry > 0 {
		session.Expiry = time.Unix(sig.Expiry, 0)
	}

	return session, nil
}

func (c *Client) signPut(ctx context.Context, filename, folder string, resumable bool, expiry time.Duration) (Signature, error) {
	name := InferFilename(filename)
	return c.CreateSignature(ctx, SignatureRequest{
		Filename:  name,
		Folder:    folder,
		Method:    "put",
		Resumable: resumable,
		Expiry:    c.expiry(expiry),
		Metadata:  &SignatureMetadata{Title: name},
	})
}
