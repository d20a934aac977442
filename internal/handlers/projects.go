package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Nijaek/analytics-dashboard/internal/ingest"
	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/pkg/auth"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	pkgmw "github.com/Nijaek/analytics-dashboard/pkg/middleware"
)

// ProjectHandler serves project CRUD and key rotation. Every operation
// is scoped to the calling owner; other tenants' projects read as 404.
type ProjectHandler struct {
	store       *store.Store
	coordinator *ingest.Coordinator
	logger      logging.Logger
}

func NewProjectHandler(st *store.Store, coordinator *ingest.Coordinator, logger logging.Logger) *ProjectHandler {
	return &ProjectHandler{store: st, coordinator: coordinator, logger: logger}
}

type createProjectRequest struct {
	Name   string  `json:"name" binding:"required,max=255"`
	Domain *string `json:"domain" binding:"omitempty,max=255"`
}

type updateProjectRequest struct {
	Name   *string `json:"name" binding:"omitempty,min=1,max=255"`
	Domain *string `json:"domain" binding:"omitempty,max=255"`
}

// Create registers a project and returns the plaintext ingest key. This
// response is the only place the key ever appears.
func (h *ProjectHandler) Create(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	key, err := auth.GenerateProjectKey()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	project, err := h.store.CreateProject(c.Request.Context(), pkgmw.GetUserID(c),
		req.Name, req.Domain, auth.HashProjectKey(key), auth.KeyDisplayPrefix(key))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logging.Fields{"project_id": project.ID, "user_id": project.OwnerID}).Info("Project created")
	c.JSON(http.StatusCreated, models.ProjectWithKey{Project: *project, Key: key})
}

// List returns the caller's projects, newest first.
func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.store.ListProjectsByOwner(c.Request.Context(), pkgmw.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

// Get returns one project by id.
func (h *ProjectHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	project, err := h.store.GetProjectForOwner(c.Request.Context(), id, pkgmw.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// Update applies a partial name/domain update.
func (h *ProjectHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	project, err := h.store.UpdateProject(c.Request.Context(), id, pkgmw.GetUserID(c), req.Name, req.Domain)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// Delete removes a project and evicts its key from the resolver cache
// so in-flight ingest stops authenticating immediately.
func (h *ProjectHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ctx := c.Request.Context()
	userID := pkgmw.GetUserID(c)

	project, err := h.store.GetProjectForOwner(ctx, id, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.store.DeleteProject(ctx, id, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.coordinator.InvalidateKey(project.KeyHash)

	h.logger.WithFields(logging.Fields{"project_id": id, "user_id": userID}).Info("Project deleted")
	c.Status(http.StatusNoContent)
}

// RotateKey replaces the ingest key. The old key stops working the
// moment the new hash is stored.
func (h *ProjectHandler) RotateKey(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ctx := c.Request.Context()
	userID := pkgmw.GetUserID(c)

	current, err := h.store.GetProjectForOwner(ctx, id, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	key, err := auth.GenerateProjectKey()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	project, err := h.store.RotateProjectKey(ctx, id, userID, auth.HashProjectKey(key), auth.KeyDisplayPrefix(key))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.coordinator.InvalidateKey(current.KeyHash)

	h.logger.WithFields(logging.Fields{"project_id": id, "user_id": userID}).Info("Project key rotated")
	c.JSON(http.StatusOK, models.ProjectWithKey{Project: *project, Key: key})
}
