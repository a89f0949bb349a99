package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/Shivika2934/labquestion/internal/pool"
	"github.com/Shivika2934/labquestion/internal/report"
)

// assignmentFilter reads topic_id, user_id and completed from the query.
// Students are scoped to themselves by the catalog whatever user_id says.
func assignmentFilter(r *http.Request) (pool.AssignmentFilter, error) {
	q := r.URL.Query()
	f := pool.AssignmentFilter{
		UserID:  q.Get("user_id"),
		TopicID: q.Get("topic_id"),
	}
	if c := q.Get("completed"); c != "" {
		b, err := strconv.ParseBool(c)
		if err != nil {
			return f, &pool.ValidationError{Index: -1, Field: "completed", Reason: "must be true or false"}
		}
		f.Completed = &b
	}
	return f, nil
}

func (h *handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	f, err := assignmentFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.Catalog.ListAssignments(r.Context(), principal(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handler) getAssignment(w http.ResponseWriter, r *http.Request) {
	d, err := h.Catalog.GetAssignment(r.Context(), principal(r), chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) completeAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Tracker.Complete(r.Context(), principal(r), chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Catalog.Dashboard(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// exportAssignments returns the assignment ledger as a spreadsheet, with a
// second sheet of per-topic pool counts.
func (h *handler) exportAssignments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal(r)
	if !p.IsAdmin() {
		writeError(w, r, fmt.Errorf("export assignments: %w", pool.ErrForbidden))
		return
	}

	f, err := assignmentFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var (
		rows   []pool.AssignmentDetail
		dash   pool.Dashboard
		topics []pool.Topic
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rows, err = h.Catalog.ListAssignments(gctx, p, f)
		return err
	})
	g.Go(func() (err error) {
		dash, err = h.Catalog.Dashboard(gctx, p)
		return err
	})
	g.Go(func() (err error) {
		topics, err = h.Catalog.ListTopics(gctx, pool.TopicFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, err)
		return
	}

	names := make(map[string]string, len(topics))
	for _, t := range topics {
		names[t.ID] = t.Name
	}

	var buf bytes.Buffer
	if err := report.WriteAssignments(&buf, rows, dash.Pools, names); err != nil {
		writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("assignments-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("failed to write export", "error", err)
	}
}
