package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/openlane-dev/freegate/internal/router"
	"github.com/openlane-dev/freegate/internal/routeerr"
)

// handleChatCompletions serves POST /api/v1/chat/completions, dispatching
// to the buffered or SSE path based on the request's `stream` flag.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "malformed request body: "+err.Error(), nil)
		return
	}

	req, err := body.toRouterRequest(s.defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error(), nil)
		return
	}

	if body.Stream {
		s.handleStream(w, r, req)
		return
	}

	result, err := s.router.ChatCompletion(r.Context(), req)
	if err != nil {
		s.writeRouteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toChatResponse(result))
}

// handleStream drains a StreamSession into SSE frames: the first frame
// carries `_router`, the terminal frame is `data: [DONE]`.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, req router.Request) {
	session, err := s.router.ChatCompletionStream(r.Context(), req)
	if err != nil {
		s.writeRouteError(w, err)
		return
	}
	defer session.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Internal", "streaming unsupported by this response writer", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		ev, more := session.Next(r.Context())
		if ev.Err != nil {
			s.logger.Warn("stream terminated with error", zap.Error(ev.Err))
			writeSSEError(w, ev.Err, ev.Meta)
			flusher.Flush()
			return
		}
		if !more {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}

		frame := streamFrame{Chunk: ev.Chunk}
		if ev.Meta != nil {
			frame.Router = ev.Meta
		}
		raw, _ := json.Marshal(frame)
		fmt.Fprintf(w, "data: %s\n\n", raw)
		flusher.Flush()
	}
}

type streamFrame struct {
	Chunk  any                 `json:"chunk"`
	Router *router.AttemptMeta `json:"_router,omitempty"`
}

func writeSSEError(w http.ResponseWriter, err error, meta *router.AttemptMeta) {
	body := errorBody{}
	body.Error.Message = err.Error()
	body.Error.Kind = string(classifyKind(err))
	body.Error.Router = meta
	raw, _ := json.Marshal(body)
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

func (s *Server) writeRouteError(w http.ResponseWriter, err error) {
	classified, ok := routeerr.As(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Internal", err.Error(), nil)
		return
	}

	var meta *router.AttemptMeta
	if len(classified.Errors) > 0 {
		meta = &router.AttemptMeta{Attempts: len(classified.Errors), Errors: classified.Errors}
	}
	writeError(w, routeerr.HTTPStatus(classified.Kind), string(classified.Kind), classified.Error(), meta)
}

func writeError(w http.ResponseWriter, status int, kind, message string, meta *router.AttemptMeta) {
	body := errorBody{}
	body.Error.Message = message
	body.Error.Kind = kind
	body.Error.Router = meta

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func classifyKind(err error) routeerr.Kind {
	var classified *routeerr.Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return routeerr.KindOther
}
