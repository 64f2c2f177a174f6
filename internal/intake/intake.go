// Package intake turns uploaded files into Documents ready for registration.
package intake

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
	pdfutil "github.com/dharsanguruparan/IteraFlow/internal/pdf"
)

const (
	// DefaultMaxFileSize is 25 MiB.
	DefaultMaxFileSize = 25 << 20
	pdfContentType     = "application/pdf"
)

// DefaultAllowedTypes are the content types the extraction service accepts.
var DefaultAllowedTypes = []string{pdfContentType, "image/png", "image/jpeg"}

// Input is a file as received from a user.
type Input struct {
	Filename    string
	Content     []byte
	ContentType string
	TaxID       string
	Description string
}

// Validator checks and normalizes inputs.
type Validator struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// NewValidator returns a Validator. Zero values select the defaults.
func NewValidator(maxFileSize int64, allowed []string) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	return &Validator{MaxFileSize: maxFileSize, AllowedTypes: allowed}
}

// FromBytes validates in and builds an unsaved Document. The tax id must be
// a CNPJ, the content non-empty and of an allowed type, and PDFs must open
// with at least one page. The description defaults to the filename plus the
// page count for PDFs.
func (v *Validator) FromBytes(in Input) (*model.Document, error) {
	const op = "intake"
	taxID, err := model.NormalizeTaxID(in.TaxID)
	if err != nil {
		return nil, err
	}
	if len(in.Content) == 0 {
		return nil, apperr.New(apperr.ErrValidation, op, "empty file")
	}
	if int64(len(in.Content)) > v.MaxFileSize {
		return nil, apperr.New(apperr.ErrValidation, op, fmt.Sprintf("file exceeds limit (%d bytes)", v.MaxFileSize))
	}

	filename := filepath.Base(strings.TrimSpace(in.Filename))
	if filename == "." || filename == string(filepath.Separator) || filename == "" {
		filename = "upload.pdf"
	}
	contentType := sniff(in.Content, in.ContentType)
	if !v.allowed(contentType) {
		return nil, apperr.New(apperr.ErrValidation, op, "unsupported content type "+contentType)
	}

	description := strings.TrimSpace(in.Description)
	if contentType == pdfContentType {
		info, err := pdfutil.Inspect(in.Content)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrValidation, op, err)
		}
		if description == "" {
			unit := "pages"
			if info.Pages == 1 {
				unit = "page"
			}
			description = fmt.Sprintf("%s (%d %s)", filename, info.Pages, unit)
		}
	}
	if description == "" {
		description = filename
	}

	return &model.Document{
		Filename:    filename,
		Content:     in.Content,
		ContentType: contentType,
		TaxID:       taxID,
		Description: description,
		Status:      string(model.StateNotUploaded),
	}, nil
}

// FromFile reads path and calls FromBytes.
func (v *Validator) FromFile(path, taxID, description string) (*model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > v.MaxFileSize {
		return nil, apperr.New(apperr.ErrValidation, "intake", fmt.Sprintf("file exceeds limit (%d bytes)", v.MaxFileSize))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v.FromBytes(Input{
		Filename:    filepath.Base(path),
		Content:     data,
		TaxID:       taxID,
		Description: description,
	})
}

func (v *Validator) allowed(contentType string) bool {
	for _, t := range v.AllowedTypes {
		if strings.EqualFold(strings.TrimSpace(t), contentType) {
			return true
		}
	}
	return false
}

// sniff prefers the PDF magic bytes, then a declared type, then
// http.DetectContentType on the first 512 bytes.
func sniff(content []byte, declared string) string {
	if pdfutil.IsPDF(content) {
		return pdfContentType
	}
	if declared = strings.TrimSpace(declared); declared != "" && declared != "application/octet-stream" {
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = strings.TrimSpace(declared[:i])
		}
		return strings.ToLower(declared)
	}
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}
