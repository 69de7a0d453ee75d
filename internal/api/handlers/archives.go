// archives.go — read-only представление метаданных архивов.
//
// GET /api/v1/archives                    — листинг по владельцу
// GET /api/v1/archives/{archiveID}         — карточка архива
// GET /api/v1/archives/{archiveID}/entries — оглавление содержимого
//
// Пароль зашифрованного архива передаётся заголовком
// X-Archive-Password и нигде не логируется.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/docstore/archive-engine/internal/api/errors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/dto"
)

// passwordHeader — заголовок пароля зашифрованного архива.
const passwordHeader = "X-Archive-Password"

// listArchivesResponse — тело ответа листинга архивов.
type listArchivesResponse struct {
	Archives any `json:"archives"`
	Total    int `json:"total"`
	Limit    int `json:"limit,omitempty"`
	Offset   int `json:"offset,omitempty"`
}

// ListArchives обрабатывает GET /api/v1/archives.
// Параметры запроса: owner_id (обязателен), pattern, category
// (archive|trash), sort_by, sort_order, limit, offset.
func (h *Handler) ListArchives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := dto.FileFilterDTO{
		OwnerID:   q.Get("owner_id"),
		Pattern:   q.Get("pattern"),
		Category:  q.Get("category"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		apierrors.ValidationError(w, "limit: ожидается целое число")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		apierrors.ValidationError(w, "offset: ожидается целое число")
		return
	}

	archives, total, err := h.svc.ListArchives(r.Context(), filter)
	if err != nil {
		apierrors.WriteAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listArchivesResponse{
		Archives: archives,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// GetArchive обрабатывает GET /api/v1/archives/{archiveID}.
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	archiveID := chi.URLParam(r, "archiveID")
	if archiveID == "" {
		apierrors.ValidationError(w, "archiveID не задан")
		return
	}

	info, err := h.svc.GetArchiveInfo(r.Context(), archiveID)
	if err != nil {
		apierrors.WriteAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// listEntriesResponse — тело ответа оглавления архива.
type listEntriesResponse struct {
	ArchiveID string `json:"archive_id"`
	Entries   any    `json:"entries"`
	Total     int    `json:"total"`
}

// ListEntries обрабатывает GET /api/v1/archives/{archiveID}/entries.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	archiveID := chi.URLParam(r, "archiveID")
	if archiveID == "" {
		apierrors.ValidationError(w, "archiveID не задан")
		return
	}

	entries, err := h.svc.ListArchiveEntries(r.Context(), archiveID, r.Header.Get(passwordHeader))
	if err != nil {
		apierrors.WriteAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listEntriesResponse{
		ArchiveID: archiveID,
		Entries:   entries,
		Total:     len(entries),
	})
}

// queryInt разбирает неотрицательный целочисленный параметр запроса.
func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
