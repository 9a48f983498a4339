package controller

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/documind/ragserver/models"
	"github.com/documind/ragserver/services"
)

// RAGController handles the HTTP requests for the RAG API. It depends on the
// RAGService to perform the actual business logic.
type RAGController struct {
	ragService     services.RAGService
	maxUploadBytes int64
}

// NewRAGController creates the controller. This is called from main.go to
// inject the service dependency.
func NewRAGController(service services.RAGService, maxUploadBytes int64) *RAGController {
	return &RAGController{
		ragService:     service,
		maxUploadBytes: maxUploadBytes,
	}
}

// UploadDocument is the Gin handler for POST /api/v1/documents. It accepts a
// multipart upload under the "file" field and ingests it, replacing any
// previous document with the same filename.
func (c *RAGController) UploadDocument(ctx *gin.Context) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "missing 'file' form field: " + err.Error()})
		return
	}
	if c.maxUploadBytes > 0 && fileHeader.Size > c.maxUploadBytes {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file exceeds the %d byte upload limit", c.maxUploadBytes)})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "could not open uploaded file"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return
	}

	result, err := c.ragService.ProcessAndStoreDocument(ctx.Request.Context(), fileHeader.Filename, content, nil)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, result)
}

// ListDocuments is the Gin handler for GET /api/v1/documents.
func (c *RAGController) ListDocuments(ctx *gin.Context) {
	docs, err := c.ragService.ListDocuments(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.ListDocumentsResponse{Count: len(docs), Documents: docs})
}

// DeleteDocument is the Gin handler for DELETE /api/v1/documents/:id.
func (c *RAGController) DeleteDocument(ctx *gin.Context) {
	documentID, ok := parseDocumentID(ctx)
	if !ok {
		return
	}

	removed, err := c.ragService.DeleteDocument(ctx.Request.Context(), documentID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.DeleteDocumentResponse{DocumentID: documentID, FragmentsDeleted: removed})
}

// SummarizeDocument is the Gin handler for POST /api/v1/documents/:id/summarize.
func (c *RAGController) SummarizeDocument(ctx *gin.Context) {
	documentID, ok := parseDocumentID(ctx)
	if !ok {
		return
	}

	summary, err := c.ragService.SummarizeDocument(ctx.Request.Context(), documentID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.SummaryResponse{DocumentID: documentID, Summary: summary})
}

// QueryRAG is the Gin handler for POST /api/v1/query. It runs the retrieval
// plus synthesis pipeline and returns the grounded answer with citations.
func (c *RAGController) QueryRAG(ctx *gin.Context) {
	var req models.QueryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := c.ragService.AnswerQuestion(ctx.Request.Context(), req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func parseDocumentID(ctx *gin.Context) (uuid.UUID, bool) {
	documentID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return uuid.Nil, false
	}
	return documentID, true
}

// respondError maps service errors onto HTTP statuses: invalid input is 400,
// a missing document is 404, provider outages are 503, storage failures 502,
// anything else 500.
func respondError(ctx *gin.Context, err error) {
	var verr *models.ValidationError
	var serr *models.StorageError
	switch {
	case errors.As(err, &verr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, models.ErrDocumentNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
	case errors.Is(err, models.ErrProviderUnavailable):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "model provider unavailable, try again later"})
	case errors.As(err, &serr):
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "storage backend failure"})
	default:
		log.Printf("CONTROLLER ERROR: %v", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
