package api

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"medrag/pipeline"
	"medrag/types"
)

type FileHandler struct {
	pipeline   *pipeline.Pipeline
	stagingDir string
}

func NewFileHandler(p *pipeline.Pipeline, stagingDir string) *FileHandler {
	return &FileHandler{
		pipeline:   p,
		stagingDir: stagingDir,
	}
}

// HandleUpload persists an uploaded file into the staging directory. Staged
// files are never deleted after processing.
func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}
	path := filepath.Join(h.stagingDir, filepath.Base(file.Filename))
	if err := c.SaveFile(file, path); err != nil {
		fmt.Println(err)
		return err
	}
	fmt.Printf("[UPLOAD] File successfully saved to: %s\n", path)

	return c.JSON(fiber.Map{"path": path})
}

// HandleIngest runs the upload pipeline over everything currently staged.
func (h *FileHandler) HandleIngest(c *fiber.Ctx) error {
	var params types.IngestParams
	// Body is optional: an empty payload ingests as the anonymous user.
	_ = c.BodyParser(&params)

	chunks, err := h.pipeline.Upload(context.Background(), params.User, h.stagingDir)
	if err != nil {
		return ErrPipelineFailed()
	}

	return c.JSON(fiber.Map{"chunks": chunks})
}
