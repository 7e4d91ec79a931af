package http

import (
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/lifecycle"
)

// ApplianceReader is the read-only slice of the lifecycle coordinator the API exposes.
type ApplianceReader interface {
	Status(ctx context.Context) (*lifecycle.Status, error)
	Backups() ([]domain.BackupArchive, error)
	Logs(ctx context.Context, w io.Writer, follow bool, tail string) error
}

type ApplianceHandler struct {
	appliance ApplianceReader
}

func NewApplianceHandler(appliance ApplianceReader) *ApplianceHandler {
	return &ApplianceHandler{appliance: appliance}
}

// NewApp builds the fiber app with every route registered.
func NewApp(h *ApplianceHandler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	api := app.Group("/api")
	v1 := api.Group("/v1")

	appliance := v1.Group("/appliance")
	appliance.Get("/", h.GetStatus)
	appliance.Get("/logs", h.GetLogs)

	v1.Get("/backups", h.ListBackups)
	return app
}

func (h *ApplianceHandler) GetStatus(c *fiber.Ctx) error {
	st, err := h.appliance.Status(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(st)
}

func (h *ApplianceHandler) ListBackups(c *fiber.Ctx) error {
	backups, err := h.appliance.Backups()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if backups == nil {
		backups = []domain.BackupArchive{}
	}
	return c.JSON(backups)
}

func (h *ApplianceHandler) GetLogs(c *fiber.Ctx) error {
	tail := c.Query("tail", "200")
	if tail != "all" {
		if n, err := strconv.Atoi(tail); err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "tail must be a non-negative number or \"all\"",
			})
		}
	}

	// Following is left to the CLI; the API returns a bounded snapshot.
	var buf bytes.Buffer
	if err := h.appliance.Logs(c.UserContext(), &buf, false, tail); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set("Content-Type", "text/plain")
	return c.Send(buf.Bytes())
}
