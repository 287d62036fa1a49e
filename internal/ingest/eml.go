package ingest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

const maxPartBytes = 5 << 20

var wordDecoder = new(mime.WordDecoder)

// ParseEML reads an RFC 5322 message and returns its sender, subject and the
// first text/plain and text/html bodies, descending into nested multiparts.
func ParseEML(r io.Reader) (entity.InboundMessage, error) {
	m, err := mail.ReadMessage(r)
	if err != nil {
		return entity.InboundMessage{}, fmt.Errorf("read message: %w", err)
	}

	var out entity.InboundMessage
	if from, err := mail.ParseAddress(m.Header.Get("From")); err == nil {
		out.Sender = from.Address
	} else {
		out.Sender = strings.TrimSpace(m.Header.Get("From"))
	}
	if subj, err := wordDecoder.DecodeHeader(m.Header.Get("Subject")); err == nil {
		out.Subject = subj
	} else {
		out.Subject = m.Header.Get("Subject")
	}

	err = walkPart(m.Header, m.Body, &out)
	return out, err
}

// header is satisfied by mail.Header and textproto.MIMEHeader.
type header interface {
	Get(key string) string
}

func walkPart(h header, body io.Reader, out *entity.InboundMessage) error {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read part: %w", err)
			}
			if err := walkPart(p.Header, p, out); err != nil {
				return err
			}
		}
	}

	if strings.EqualFold(h.Get("Content-Disposition"), "attachment") ||
		strings.HasPrefix(strings.ToLower(h.Get("Content-Disposition")), "attachment;") {
		return nil
	}

	switch mediaType {
	case "text/plain":
		if out.BodyPlain != "" {
			return nil
		}
		text, err := decodeBody(h.Get("Content-Transfer-Encoding"), body)
		if err != nil {
			return err
		}
		out.BodyPlain = text
	case "text/html":
		if out.BodyHTML != "" {
			return nil
		}
		text, err := decodeBody(h.Get("Content-Transfer-Encoding"), body)
		if err != nil {
			return err
		}
		out.BodyHTML = text
	}
	return nil
}

func decodeBody(encoding string, body io.Reader) (string, error) {
	r := io.LimitReader(body, maxPartBytes)
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		clean := bytes.Map(func(c rune) rune {
			if c == '\r' || c == '\n' || c == ' ' || c == '\t' {
				return -1
			}
			return c
		}, raw)
		dec, err := base64.StdEncoding.DecodeString(string(clean))
		if err != nil {
			return "", fmt.Errorf("decode base64 part: %w", err)
		}
		return string(dec), nil
	case "quoted-printable":
		dec, err := io.ReadAll(quotedprintable.NewReader(r))
		if err != nil {
			return "", fmt.Errorf("decode quoted-printable part: %w", err)
		}
		return string(dec), nil
	default:
		raw, err := io.ReadAll(r)
		return string(raw), err
	}
}
