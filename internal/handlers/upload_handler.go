package handlers

import (
	"fmt"
	"mime/multipart"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/gnafhan/cv-evaluator-workflow/internal/models"
	"github.com/gnafhan/cv-evaluator-workflow/internal/repositories"
	"github.com/gnafhan/cv-evaluator-workflow/internal/services"
)

type UploadHandler struct {
	docRepo        repositories.DocumentRepository
	storageService services.StorageService
	maxFileSize    int64
}

func NewUploadHandler(
	docRepo repositories.DocumentRepository,
	storageService services.StorageService,
	maxFileSize int64,
) *UploadHandler {
	return &UploadHandler{
		docRepo:        docRepo,
		storageService: storageService,
		maxFileSize:    maxFileSize,
	}
}

// HandleUpload handles POST /upload. Accepts "cv" and/or "project_report"
// multipart PDF files and creates a document record per file.
func (h *UploadHandler) HandleUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to parse multipart form",
		})
	}

	files := form.File

	var responses []models.UploadResponse

	for _, fileType := range []string{models.DocumentTypeCV, models.DocumentTypeProjectReport} {
		uploads, exists := files[fileType]
		if !exists || len(uploads) == 0 {
			continue
		}
		file := uploads[0]

		response, status, err := h.saveUpload(file, fileType)
		if err != nil {
			return c.Status(status).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		responses = append(responses, *response)
	}

	if len(responses) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No valid files uploaded. Please upload 'cv' and/or 'project_report' as PDF files.",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "Files uploaded successfully",
		"documents": responses,
	})
}

func (h *UploadHandler) saveUpload(file *multipart.FileHeader, fileType string) (*models.UploadResponse, int, error) {
	if file.Size > h.maxFileSize {
		return nil, fiber.StatusBadRequest, fmt.Errorf("%s file too large. Max size: %d bytes", fileType, h.maxFileSize)
	}

	filename, filePath, err := h.storageService.SaveFile(file, fileType)
	if err != nil {
		return nil, fiber.StatusInternalServerError, fmt.Errorf("failed to save %s file: %v", fileType, err)
	}

	doc := models.Document{
		ID:               uuid.New(),
		Filename:         filename,
		OriginalFileName: file.Filename,
		FileType:         fileType,
		FilePath:         filePath,
		FileSize:         file.Size,
		MimeType:         file.Header.Get("Content-Type"),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := h.docRepo.Create(&doc); err != nil {
		// Cleanup the uploaded file if the record insert fails.
		h.storageService.DeleteFile(filename)
		return nil, fiber.StatusInternalServerError, fmt.Errorf("failed to save %s document record: %v", fileType, err)
	}

	return &models.UploadResponse{
		ID:           doc.ID.String(),
		Filename:     doc.Filename,
		OriginalName: doc.OriginalFileName,
		FileType:     doc.FileType,
	}, fiber.StatusCreated, nil
}
