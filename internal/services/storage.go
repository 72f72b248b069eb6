package services

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/gnafhan/cv-evaluator-workflow/internal/models"
)

// StorageService owns the upload directory. Documents are stored on local
// disk under a generated name; the document record keeps the original one.
type StorageService interface {
	SaveFile(file *multipart.FileHeader, docType string) (string, string, error)
	DeleteFile(filename string) error
	EnsureUploadDir() error
}

type storageService struct {
	uploadPath string
}

func NewStorageService(uploadPath string) StorageService {
	return &storageService{
		uploadPath: uploadPath,
	}
}

func (s *storageService) EnsureUploadDir() error {
	if err := os.MkdirAll(s.uploadPath, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	return nil
}

// SaveFile persists an uploaded document and returns its generated filename
// and full path. Only the document kind and extension are validated here;
// content screening happens in the evaluation pipeline, against the stored
// bytes.
func (s *storageService) SaveFile(file *multipart.FileHeader, docType string) (string, string, error) {
	if docType != models.DocumentTypeCV && docType != models.DocumentTypeProjectReport {
		return "", "", fmt.Errorf("unknown document type: %s", docType)
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != ".pdf" {
		return "", "", fmt.Errorf("invalid file extension: %s", ext)
	}

	filename := fmt.Sprintf("%s_%s%s", docType, uuid.New().String(), ext)
	filePath := filepath.Join(s.uploadPath, filename)

	src, err := file.Open()
	if err != nil {
		return "", "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filePath)
	if err != nil {
		return "", "", fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		// Drop the partial file so a retried upload never reads half a
		// document.
		os.Remove(filePath)
		return "", "", fmt.Errorf("failed to save file: %w", err)
	}

	return filename, filePath, nil
}

func (s *storageService) DeleteFile(filename string) error {
	if err := os.Remove(filepath.Join(s.uploadPath, filename)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
