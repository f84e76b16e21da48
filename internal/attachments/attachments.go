// Package attachments enforces the inbound media byte cap (§4.7: "up to
// configured byte cap") and classifies downloaded bytes as image attachments
// the envelope can carry base64-encoded. Grounded on the teacher's
// pkg/chatmedia download/transcode helpers; uses disintegration/imaging +
// golang.org/x/image for decode/format sniffing (png/gif support beyond
// stdlib's image/jpeg) and dustin/go-humanize to render the cap in log
// messages and error text.
package attachments

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
)

type Attachment struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
	Content  string `json:"content"` // base64
}

// Fetch downloads a URL and returns an Attachment if it decodes as an image
// within maxBytes; returns (nil, nil) for bodies that don't decode as images
// so callers can fall back to a metadata-only summary (§4.7: "videos/
// animations are summarized but not downloaded"). A non-200 status or a body
// larger than maxBytes is returned as an error.
func Fetch(ctx httpGetter, url, fileName string, maxBytes int64) (*Attachment, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ctx.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch attachment: unexpected status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("attachment exceeds %s cap", humanize.Bytes(uint64(maxBytes)))
	}

	return FromBytes(data, fileName)
}

// FromBytes classifies raw bytes already held in memory (used by the
// WhatsApp poller, which reads media the library already wrote to disk,
// per §4.7 "Image attachments are read from disk").
func FromBytes(data []byte, fileName string) (*Attachment, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil // not a decodable image; caller summarizes instead
	}
	_ = cfg // decoded only to validate the image header before normalizing

	// Re-encode through imaging to normalize format edge cases the raw
	// provider bytes sometimes carry (only the gif/jpeg/png decoders are
	// registered, so other formats returned nil above).
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return &Attachment{
			Type: "image", MimeType: "image/" + format, FileName: fileName,
			Content: base64.StdEncoding.EncodeToString(data),
		}, nil
	}
	var buf bytes.Buffer
	encodeFormat := imaging.JPEG
	mime := "image/jpeg"
	if format == "png" {
		encodeFormat = imaging.PNG
		mime = "image/png"
	}
	if err := imaging.Encode(&buf, img, encodeFormat); err != nil {
		return &Attachment{
			Type: "image", MimeType: "image/" + format, FileName: fileName,
			Content: base64.StdEncoding.EncodeToString(data),
		}, nil
	}

	return &Attachment{
		Type:     "image",
		MimeType: mime,
		FileName: fileName,
		Content:  base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

type httpGetter interface {
	Do(req *http.Request) (*http.Response, error)
}
