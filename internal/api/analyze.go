package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aytekaytemur/perseptor/internal/pipeline"
	"github.com/aytekaytemur/perseptor/internal/session"
)

const minCombinedChars = 50

type analyzeRequest struct {
	URL          string `json:"url"`
	APIKey       string `json:"api_key"`
	OpenAIAPIKey string `json:"openai_api_key"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

// handleAnalyze runs a full analysis synchronously and returns the
// aggregated record. Pipeline-internal failures degrade to empty fields;
// only pre-pipeline errors produce an error body.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, params, ok := s.parseAnalyzeRequest(w, r)
	if !ok {
		return
	}

	log.Info().Str("url", req.URL).Str("provider", params.Provider).Msg("Starting analysis")

	input, errMsg := s.fetchInput(r, req.URL)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	input.Provider = params.Provider
	input.Model = params.Model

	engine, err := s.buildEngine(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.newPipeline(engine).Run(r.Context(), *input, s.hubEmitter())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAnalyzeStream runs the analysis and streams progress as SSE. One
// frame per event: "data: <json>\n\n". The terminal frame is either
// stage "complete" with the full record or stage "error" with progress 0.
func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, params, ok := s.parseAnalyzeRequest(w, r)
	if !ok {
		return
	}

	emit, ok := s.startEventStream(w)
	if !ok {
		return
	}

	emit(pipeline.ProgressEvent{Stage: "fetching", Progress: 5, Message: "Fetching URL content..."})

	page, err := s.fetcher.FetchArticle(r.Context(), req.URL)
	if err != nil {
		emit(pipeline.ProgressEvent{Stage: "error", Progress: 0, Message: "Error fetching URL: " + err.Error()})
		return
	}
	emit(pipeline.ProgressEvent{
		Stage: "fetched", Progress: 10,
		Message: fmt.Sprintf("Fetched %d chars via static HTML", len(page.Text)),
	})

	emit(pipeline.ProgressEvent{Stage: "ocr", Progress: 12, Message: "Extracting images and running OCR..."})
	ocrText := s.fetcher.ExtractImageText(r.Context(), page.Images)

	combined := combineText(page.Text, ocrText)
	if len(strings.TrimSpace(combined)) < minCombinedChars {
		emit(pipeline.ProgressEvent{Stage: "error", Progress: 0, Message: insufficientTextMessage(combined, "URL")})
		return
	}
	if err := session.ValidateText(combined, "extracted text"); err != nil {
		emit(pipeline.ProgressEvent{Stage: "error", Progress: 0, Message: err.Error()})
		return
	}
	emit(pipeline.ProgressEvent{
		Stage: "ocr_done", Progress: 20,
		Message: fmt.Sprintf("OCR complete (%d chars from images)", len(ocrText)),
	})

	engine, err := s.buildEngine(params)
	if err != nil {
		emit(pipeline.ProgressEvent{Stage: "error", Progress: 0, Message: err.Error()})
		return
	}

	input := pipeline.Input{
		ArticleText:   page.Text,
		ImagesOCRText: ocrText,
		CombinedText:  combined,
		SourceURL:     req.URL,
		Provider:      params.Provider,
		Model:         params.Model,
	}
	if _, err := s.newPipeline(engine).Run(r.Context(), input, emit); err != nil {
		log.Error().Err(err).Str("url", req.URL).Msg("Streaming analysis aborted")
	}
}

// handleAnalyzePDFStream analyzes an uploaded PDF, streaming progress the
// same way as the URL path.
func (s *Server) handleAnalyzePDFStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	maxBytes := int64(s.cfg.MaxUploadSizeMB) << 20
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "No PDF file provided")
		return
	}

	file, header, err := r.FormFile("pdf")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No PDF file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "Only PDF files are accepted")
		return
	}

	pdfBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read PDF file")
		return
	}
	if int64(len(pdfBytes)) > maxBytes {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("PDF file exceeds %dMB limit", s.cfg.MaxUploadSizeMB))
		return
	}
	if len(pdfBytes) == 0 {
		writeError(w, http.StatusBadRequest, "PDF file is empty")
		return
	}

	params, err := s.resolveProvider(r,
		r.FormValue("api_key"), r.FormValue("openai_api_key"),
		r.FormValue("provider"), r.FormValue("model"))
	if err != nil {
		writeError(w, providerErrorStatus(err), err.Error())
		return
	}

	emit, ok := s.startEventStream(w)
	if !ok {
		return
	}

	filename := session.SanitizeFilename(header.Filename)
	emit(pipeline.ProgressEvent{
		Stage: "fetching", Progress: 5,
		Message: fmt.Sprintf("Extracting text from PDF: %s...", filename),
	})

	text, err := s.fetcher.ExtractPDFText(r.Context(), pdfBytes)
	if err != nil {
		emit(pipeline.ProgressEvent{Stage: "error", Progress: 0, Message: "Error reading PDF: " + err.Error()})
		return
	}
	if len(strings.TrimSpace(text)) < minCombinedChars {
		emit(pipeline.ProgressEvent{Stage: "error", Progress: 0, Message: insufficientTextMessage(text, "PDF")})
		return
	}

	emit(pipeline.ProgressEvent{
		Stage: "fetched", Progress: 15,
		Message: fmt.Sprintf("Extracted %d chars from PDF", len(text)),
	})
	emit(pipeline.ProgressEvent{Stage: "ocr_done", Progress: 20, Message: "PDF text extraction complete"})

	engine, err := s.buildEngine(params)
	if err != nil {
		emit(pipeline.ProgressEvent{Stage: "error", Progress: 0, Message: err.Error()})
		return
	}

	input := pipeline.Input{
		ArticleText:  text,
		CombinedText: text,
		SourceURL:    "pdf://" + filename,
		Provider:     params.Provider,
		Model:        params.Model,
	}
	if _, err := s.newPipeline(engine).Run(r.Context(), input, emit); err != nil {
		log.Error().Err(err).Str("pdf", filename).Msg("PDF streaming analysis aborted")
	}
}

// parseAnalyzeRequest validates the request body and provider selection.
// On failure the error response has already been written.
func (s *Server) parseAnalyzeRequest(w http.ResponseWriter, r *http.Request) (*analyzeRequest, providerParams, bool) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No JSON data received")
		return nil, providerParams{}, false
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return nil, providerParams{}, false
	}
	if err := session.ValidateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, providerParams{}, false
	}

	params, err := s.resolveProvider(r, req.APIKey, req.OpenAIAPIKey, req.Provider, req.Model)
	if err != nil {
		writeError(w, providerErrorStatus(err), err.Error())
		return nil, providerParams{}, false
	}
	return &req, params, true
}

// fetchInput runs the non-streaming fetch and OCR path. A non-empty
// second return value is the user-facing error message.
func (s *Server) fetchInput(r *http.Request, pageURL string) (*pipeline.Input, string) {
	page, err := s.fetcher.FetchArticle(r.Context(), pageURL)
	if err != nil {
		return nil, "Error fetching URL: " + err.Error()
	}
	log.Info().Int("chars", len(page.Text)).Int("images", len(page.Images)).Msg("Fetched article content")

	ocrText := s.fetcher.ExtractImageText(r.Context(), page.Images)
	combined := combineText(page.Text, ocrText)

	if len(strings.TrimSpace(combined)) < minCombinedChars {
		return nil, insufficientTextMessage(combined, "URL")
	}
	if err := session.ValidateText(combined, "extracted text"); err != nil {
		return nil, err.Error()
	}

	return &pipeline.Input{
		ArticleText:   page.Text,
		ImagesOCRText: ocrText,
		CombinedText:  combined,
		SourceURL:     pageURL,
	}, ""
}

// startEventStream switches the response to SSE and returns an emitter
// that writes frames, flushes and mirrors events to the websocket hub.
func (s *Server) startEventStream(w http.ResponseWriter) (pipeline.Emitter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	return func(event pipeline.ProgressEvent) {
		data, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Str("stage", event.Stage).Msg("Failed to marshal progress event")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		if s.hub != nil {
			s.hub.BroadcastProgress(event)
		}
	}, true
}

// hubEmitter mirrors sync-mode progress to websocket subscribers only.
func (s *Server) hubEmitter() pipeline.Emitter {
	if s.hub == nil {
		return nil
	}
	return s.hub.BroadcastProgress
}

func combineText(articleText, ocrText string) string {
	if ocrText == "" {
		return articleText
	}
	return articleText + "\n\n[IMAGE_OCR_SECTION]\n" + ocrText
}

func insufficientTextMessage(text, source string) string {
	n := len(strings.TrimSpace(text))
	if source == "PDF" {
		return fmt.Sprintf("Could not extract sufficient text from PDF (%d chars). "+
			"The PDF may be image-based or contain very little text.", n)
	}
	return fmt.Sprintf("Could not extract sufficient text from URL (%d chars). "+
		"The page may require JavaScript rendering or may be blocking automated access.", n)
}

func providerErrorStatus(err error) int {
	if errors.Is(err, session.ErrInvalidSession) {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}
