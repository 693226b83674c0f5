package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/gorilla/mux"

	"github.com/Sivtheng/message-maxy/internal/backend"
	svcerrors "github.com/Sivtheng/message-maxy/internal/errors"
	"github.com/Sivtheng/message-maxy/internal/httputil"
)

// media serves objects from stores that do not host their own URLs.
func (h *handler) media(w http.ResponseWriter, r *http.Request) {
	opener, ok := h.app.Backend.Objects.(backend.ObjectOpener)
	if !ok {
		httputil.WriteServiceError(w, svcerrors.NotFound("media"))
		return
	}

	raw := mux.Vars(r)["path"]
	cleaned := path.Clean("/" + raw)
	if raw != cleaned[1:] {
		httputil.WriteServiceError(w, svcerrors.BadRequest("invalid media path"))
		return
	}

	obj, err := opener.Open(r.Context(), raw)
	if errors.Is(err, backend.ErrNotFound) {
		httputil.WriteServiceError(w, svcerrors.NotFound("media"))
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, path.Base(obj.Path), time.Time{}, bytes.NewReader(obj.Data))
}
