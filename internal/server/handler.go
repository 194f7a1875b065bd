package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-dev/keepsake/internal/engine"
	"github.com/keepsake-dev/keepsake/internal/folder"
	"github.com/keepsake-dev/keepsake/internal/journal"
	"github.com/keepsake-dev/keepsake/internal/vcs"
)

const defaultCommitLimit = 50

type folderView struct {
	folder.WatchedFolder
	StoragePath string        `json:"storagePath"`
	Status      engine.Status `json:"status"`
}

func (s *Server) view(f folder.WatchedFolder) folderView {
	v := folderView{WatchedFolder: f, StoragePath: f.StoragePath()}
	if st, err := s.cfg.Backend.Status(f.ID); err == nil {
		v.Status = st
	}
	return v
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.ClientCount()})
}

func (s *Server) listFolders(c *gin.Context) {
	folders, err := s.cfg.Backend.Folders()
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]folderView, 0, len(folders))
	for _, f := range folders {
		views = append(views, s.view(f))
	}
	c.JSON(http.StatusOK, gin.H{"folders": views})
}

func (s *Server) getFolder(c *gin.Context) {
	f, err := s.cfg.Backend.Folder(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(f))
}

func (s *Server) listCommits(c *gin.Context) {
	limit := defaultCommitLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	commits, err := s.cfg.Backend.ListCommits(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if commits == nil {
		commits = []vcs.Commit{}
	}
	c.JSON(http.StatusOK, gin.H{"commits": commits})
}

func (s *Server) getFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	ref := c.DefaultQuery("ref", "HEAD")

	data, err := s.cfg.Backend.ReadFileAt(c.Request.Context(), c.Param("id"), ref, path)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) getDiff(c *gin.Context) {
	path, oldRef := c.Query("path"), c.Query("old")
	if path == "" || oldRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path and old are required"})
		return
	}

	diff, err := s.cfg.Backend.Diff(c.Request.Context(), c.Param("id"), path, oldRef, c.Query("new"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

func (s *Server) restore(c *gin.Context) {
	var body struct {
		Path string `json:"path" binding:"required"`
		Ref  string `json:"ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path and ref are required"})
		return
	}

	hash, err := s.cfg.Backend.Restore(c.Request.Context(), c.Param("id"), body.Path, body.Ref)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": hash, "changed": hash != ""})
}

func (s *Server) relocate(c *gin.Context) {
	var body struct {
		Location string `json:"location"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	res, err := s.cfg.Backend.Relocate(c.Request.Context(), c.Param("id"), body.Location)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) activity(c *gin.Context) {
	q := journal.Query{
		FolderID: c.Query("folder"),
		Kind:     journal.Kind(c.Query("kind")),
		Limit:    100,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		q.Limit = n
	}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		q.Since = t
	}

	entries, err := s.cfg.Journal.List(c.Request.Context(), q)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, folder.ErrNotFound), errors.Is(err, vcs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, vcs.ErrRelocationConflict), errors.Is(err, vcs.ErrSourceMissing):
		status = http.StatusConflict
	case errors.Is(err, vcs.ErrStoreInit), errors.Is(err, vcs.ErrVCSNotAvailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
