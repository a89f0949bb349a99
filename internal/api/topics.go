package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivika2934/labquestion/internal/pool"
)

type generateRequest struct {
	BaseQuestion string `json:"base_question"`
	Count        int    `json:"count"`
}

type ingestRequest struct {
	Questions []pool.Candidate `json:"questions"`
}

func (h *handler) listTopics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := pool.TopicFilter{Category: q.Get("category")}
	if d := q.Get("difficulty"); d != "" {
		difficulty, err := pool.ParseDifficulty(d)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Difficulty = difficulty
	}

	topics, err := h.Catalog.ListTopics(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (h *handler) createTopic(w http.ResponseWriter, r *http.Request) {
	var in pool.NewTopic
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	topic, err := h.Catalog.CreateTopic(r.Context(), principal(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (h *handler) getTopic(w http.ResponseWriter, r *http.Request) {
	topic, err := h.Catalog.GetTopic(r.Context(), chi.URLParam(r, "topicID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

func (h *handler) deleteTopic(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.DeleteTopic(r.Context(), principal(r), chi.URLParam(r, "topicID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.Catalog.ListQuestions(r.Context(), principal(r), chi.URLParam(r, "topicID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

// ingestQuestions adds administrator-authored questions to a pool.
func (h *handler) ingestQuestions(w http.ResponseWriter, r *http.Request) {
	var in ingestRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Ingestor.Ingest(r.Context(), principal(r), chi.URLParam(r, "topicID"), in.Questions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, ingestStatus(res), res)
}

// generateQuestions asks the generation provider for variations of a base
// question and adds the valid ones to the pool.
func (h *handler) generateQuestions(w http.ResponseWriter, r *http.Request) {
	var in generateRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.Count == 0 {
		in.Count = h.DefaultGenerateCount
	}
	res, err := h.Ingestor.Generate(r.Context(), principal(r), chi.URLParam(r, "topicID"), in.BaseQuestion, in.Count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, ingestStatus(res), res)
}

func ingestStatus(res pool.IngestResult) int {
	if res.Admitted > 0 {
		return http.StatusCreated
	}
	return http.StatusOK
}

// assign hands the caller a question from the topic's pool. Asking again
// returns the same assignment.
func (h *handler) assign(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	a, err := h.Allocator.Assign(r.Context(), p, chi.URLParam(r, "topicID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.Catalog.GetAssignment(r.Context(), p, a.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) poolStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Catalog.PoolStats(r.Context(), chi.URLParam(r, "topicID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
