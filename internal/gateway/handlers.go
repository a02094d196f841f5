package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/haasonsaas/presgen/internal/orchestrator"
	"github.com/haasonsaas/presgen/internal/toolerr"
)

// maxUploadBytes bounds /data/upload request bodies.
const maxUploadBytes = 64 << 20

type renderRequest struct {
	ReportText string `json:"report_text"`
	RequestID  string `json:"request_id,omitempty"`
	Slides     int    `json:"slides,omitempty"`
	UseCache   *bool  `json:"use_cache,omitempty"`
}

type renderResponse struct {
	OK             bool   `json:"ok"`
	URL            string `json:"url,omitempty"`
	PresentationID string `json:"presentation_id,omitempty"`
	CreatedSlides  int    `json:"created_slides"`
	FirstSlideID   string `json:"first_slide_id,omitempty"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Slides <= 0 {
		req.Slides = 1
	}

	res, err := s.orch.Run(r.Context(), orchestrator.Params{
		ReportText:      req.ReportText,
		ClientRequestID: req.RequestID,
		SlideCount:      req.Slides,
		NoCache:         req.UseCache != nil && !*req.UseCache,
	})
	if err != nil {
		s.writeToolError(w, err)
		return
	}
	if res.CreatedSlides == 0 {
		writeError(w, http.StatusInternalServerError, "no slides could be planned from the report")
		return
	}
	slidesCreated.Add(float64(res.CreatedSlides))
	writeJSON(w, http.StatusOK, renderResponse{
		OK:             true,
		URL:            res.URL,
		PresentationID: res.PresentationID,
		CreatedSlides:  res.CreatedSlides,
		FirstSlideID:   res.FirstSlideID,
	})
}

type uploadResponse struct {
	DatasetID string `json:"dataset_id"`
	Sheets    []any  `json:"sheets"`
}

func (s *Server) handleDataUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "data store not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' required")
		return
	}
	defer file.Close()

	tmpDir, err := os.MkdirTemp("", "presgen-upload-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "temp storage unavailable")
		return
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, filepath.Base(header.Filename))
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "temp storage unavailable")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "upload copy failed")
		return
	}
	dst.Close()

	ds, err := s.store.Ingest(r.Context(), tmpPath)
	if err != nil {
		s.writeToolError(w, err)
		return
	}
	datasetsIngested.Inc()

	sheets := make([]any, len(ds.Sheets))
	for i, sheet := range ds.Sheets {
		sheets[i] = map[string]any{"name": sheet.Name, "rows": sheet.Rows, "columns": sheet.Columns}
	}
	writeJSON(w, http.StatusOK, uploadResponse{DatasetID: ds.ID, Sheets: sheets})
}

type askRequest struct {
	DatasetID   string   `json:"dataset_id,omitempty"`
	DatasetHint string   `json:"dataset_hint,omitempty"`
	Sheet       string   `json:"sheet,omitempty"`
	Questions   []string `json:"questions"`
	ReportText  string   `json:"report_text,omitempty"`
	Slides      int      `json:"slides,omitempty"`
	UseCache    *bool    `json:"use_cache,omitempty"`
}

type askResponse struct {
	OK            bool   `json:"ok"`
	URL           string `json:"url,omitempty"`
	DatasetID     string `json:"dataset_id,omitempty"`
	CreatedSlides int    `json:"created_slides"`
}

func (s *Server) handleDataAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "questions required")
		return
	}
	if req.Slides <= 0 {
		req.Slides = len(req.Questions)
		if req.ReportText != "" {
			req.Slides++
		}
	}

	hint := req.DatasetID
	if hint == "" {
		hint = req.DatasetHint
	}
	datasetID := hint
	if s.store != nil {
		if ds, err := s.store.Resolve(hint); err == nil {
			datasetID = ds.ID
		}
	}

	res, err := s.orch.Run(r.Context(), orchestrator.Params{
		ReportText:    req.ReportText,
		SlideCount:    req.Slides,
		DataQuestions: req.Questions,
		DatasetID:     datasetID,
		Sheet:         req.Sheet,
		NoCache:       req.UseCache != nil && !*req.UseCache,
	})
	if err != nil {
		s.writeToolError(w, err)
		return
	}
	slidesCreated.Add(float64(res.CreatedSlides))
	writeJSON(w, http.StatusOK, askResponse{
		OK:            true,
		URL:           res.URL,
		DatasetID:     datasetID,
		CreatedSlides: res.CreatedSlides,
	})
}

// writeToolError maps the error taxonomy onto HTTP statuses: caller
// mistakes are 400, everything else 500. The diagnostic stays short.
func (s *Server) writeToolError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch toolerr.KindOf(err) {
	case toolerr.BadRequest, toolerr.ResourceMissing:
		status = http.StatusBadRequest
	}
	s.logger.Error("request failed", "status", status, "error", err)
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
