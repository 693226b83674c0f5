package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
	svcerrors "github.com/Sivtheng/message-maxy/internal/errors"
	"github.com/Sivtheng/message-maxy/internal/httputil"
	"github.com/Sivtheng/message-maxy/internal/middleware"
)

const multipartMemory = 8 << 20

type sendRequest struct {
	Content string `json:"content"`
}

// sendMessage posts to the conversation with {peer}. It accepts JSON
// {"content": ...} or multipart/form-data with a "content" field and an
// optional "media" file.
func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	peer := mux.Vars(r)["peer"]
	uid := middleware.GetUserID(r)

	content, media, err := h.readMessage(w, r)
	if err != nil {
		h.writeError(w, r, badInput(err))
		return
	}

	id, err := h.app.Composer(uid, peer).Send(r.Context(), content, media)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id == "" {
		if media != nil || !h.app.Backend.Status().Docs {
			httputil.WriteServiceError(w, svcerrors.Unavailable("message storage is not available", nil))
			return
		}
		httputil.WriteServiceError(w, svcerrors.BadRequest("message is empty"))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handler) readMessage(w http.ResponseWriter, r *http.Request) (string, *message.Media, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var payload sendRequest
		if err := httputil.DecodeJSON(r, &payload, maxJSONBody); err != nil {
			return "", nil, err
		}
		return payload.Content, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", nil, err
	}
	defer r.MultipartForm.RemoveAll()

	content := r.FormValue("content")
	file, header, err := r.FormFile("media")
	if errors.Is(err, http.ErrMissingFile) {
		return content, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return content, &message.Media{Name: header.Filename, ContentType: contentType, Data: data}, nil
}
