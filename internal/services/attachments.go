package services

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"chatbot-backend/internal/ai"
	"chatbot-backend/internal/models"
)

const (
	MaxUploadSize      = 5 << 20
	maxAttachmentText  = 100_000
	filesURLPrefix     = "/files/"
	maxMessageAttaches = 4
)

var allowedUploadTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

type UploadResult struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"content_type"`
	Text        string `json:"text,omitempty"`
}

// AttachmentService stores uploads under {storagePath}/users/{userID}/ and
// extracts text from documents so it can be sent to the model.
type AttachmentService struct {
	storagePath string
}

func NewAttachmentService(storagePath string) *AttachmentService {
	return &AttachmentService{storagePath: storagePath}
}

// DetectContentType sniffs data, trusting a .txt extension for plain text.
func DetectContentType(filename string, data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if ct == "text/plain" || (ct == "application/octet-stream" && strings.EqualFold(filepath.Ext(filename), ".txt")) {
		return "text/plain"
	}
	return ct
}

func (s *AttachmentService) Save(ctx context.Context, userID uuid.UUID, filename string, data []byte) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"file": "File is empty"}}
	}
	if len(data) > MaxUploadSize {
		return nil, &ValidationError{Fields: map[string]string{"file": "File size should be less than 5MB"}}
	}

	contentType := DetectContentType(filename, data)
	ext, ok := allowedUploadTypes[contentType]
	if !ok {
		return nil, &ValidationError{Fields: map[string]string{"file": "File type should be JPEG, PNG, PDF or plain text"}}
	}

	rel := path.Join("users", userID.String(), uuid.NewString()+ext)
	full := filepath.Join(s.storagePath, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	result := &UploadResult{
		URL:         filesURLPrefix + rel,
		Pathname:    filepath.Base(filename),
		ContentType: contentType,
	}

	if contentType == "application/pdf" || contentType == "text/plain" {
		text, err := ExtractTextFromPath(full)
		if err != nil {
			log.Warn().Err(err).Str("file", rel).Msg("text extraction failed")
		} else {
			result.Text = truncateText(text, maxAttachmentText)
		}
	}

	return result, nil
}

// OwnedPath maps a path below /files/ to the stored file, refusing anything
// outside the caller's own directory.
func (s *AttachmentService) OwnedPath(userID uuid.UUID, rel string) (string, error) {
	clean := path.Clean("/" + rel)
	prefix := "/users/" + userID.String() + "/"
	if !strings.HasPrefix(clean, prefix) || len(clean) == len(prefix) {
		return "", &ForbiddenError{Message: "You do not have access to this file"}
	}

	full := filepath.Join(s.storagePath, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", &NotFoundError{Message: "File not found"}
	}
	return full, nil
}

// Resolve loads a message attachment for the model. Images are read into
// memory; documents contribute their extracted text.
func (s *AttachmentService) Resolve(userID uuid.UUID, att models.Attachment) (ai.Attachment, error) {
	if !strings.HasPrefix(att.URL, filesURLPrefix) {
		return ai.Attachment{}, &ValidationError{Fields: map[string]string{"attachments": "Attachment URL is not an uploaded file"}}
	}
	full, err := s.OwnedPath(userID, strings.TrimPrefix(att.URL, filesURLPrefix))
	if err != nil {
		return ai.Attachment{}, &ValidationError{Fields: map[string]string{"attachments": "Attachment not found: " + att.Name}}
	}

	out := ai.Attachment{Name: att.Name, MediaType: att.ContentType, Text: att.Text}
	switch att.ContentType {
	case "image/jpeg", "image/png":
		data, err := os.ReadFile(full)
		if err != nil {
			return ai.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
		}
		out.Data = data
	case "application/pdf", "text/plain":
		if out.Text == "" {
			text, err := ExtractTextFromPath(full)
			if err != nil {
				log.Warn().Err(err).Str("file", att.URL).Msg("text extraction failed")
			}
			out.Text = truncateText(text, maxAttachmentText)
		}
	default:
		return ai.Attachment{}, &ValidationError{Fields: map[string]string{"attachments": "Unsupported attachment type"}}
	}
	return out, nil
}

func ExtractTextFromPath(p string) (string, error) {
	ext := strings.ToLower(filepath.Ext(p))

	switch ext {
	case ".txt":
		return extractTXT(p)
	case ".pdf":
		return extractPDF(p)
	default:
		return "", fmt.Errorf("unsupported file type for text extraction: %s", ext)
	}
}

func extractTXT(p string) (string, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}

	text := normalizeExtractedText(string(b))
	if text == "" {
		return "", fmt.Errorf("text file is empty")
	}
	return text, nil
}

func extractPDF(p string) (string, error) {
	f, reader, err := pdf.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	totalPage := reader.NumPage()
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}

		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}

	text := normalizeExtractedText(b.String())
	if text == "" {
		return "", fmt.Errorf("no extractable text found in pdf")
	}
	return text, nil
}

func normalizeExtractedText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	buf := bytes.Buffer{}

	emptyCount := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			emptyCount++
			if emptyCount > 1 {
				continue
			}
			buf.WriteString("\n")
			continue
		}
		emptyCount = 0
		buf.WriteString(trimmed)
		buf.WriteString("\n")
	}

	return strings.TrimSpace(buf.String())
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// avoid cutting a multi-byte rune in half
	for max > 0 && !isRuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
