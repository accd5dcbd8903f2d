package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/ElizaSystems/lyn-sub001/internal/log"
	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/service"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

// StartServer exposes the engine over HTTP on the given port.
func StartServer(port string, orc *service.Orchestrator, store storage.Store) error {
	log.GetLogger().Infof("Starting task engine server on :%s", port)
	return http.ListenAndServe(":"+port, NewMux(orc, store))
}

// NewMux wires all handlers onto a fresh mux so tests can drive the
// API without a listening socket.
func NewMux(orc *service.Orchestrator, store storage.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/system/health", systemHealthHandler(orc))
	mux.HandleFunc("/tasks", tasksHandler(orc, store))
	mux.HandleFunc("/tasks/execute", executeTaskHandler(orc))
	mux.HandleFunc("/tasks/execute-due", executeDueHandler(orc))
	mux.HandleFunc("/batches", batchesHandler(orc, store))
	mux.HandleFunc("/analytics", analyticsHandler(orc))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Task engine is running")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func systemHealthHandler(orc *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, orc.SystemHealth())
	}
}

func tasksHandler(orc *service.Orchestrator, store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listTasksHTTP(w, r, store)
		case http.MethodPost:
			createTaskHTTP(w, r, orc)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func listTasksHTTP(w http.ResponseWriter, r *http.Request, store storage.Store) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "Missing 'user_id' parameter", http.StatusBadRequest)
		return
	}
	tasks, err := store.ListTasks(storage.TaskFilter{UserID: userID})
	if err != nil {
		log.GetLogger().Errorf("Failed to list tasks: %v", err)
		http.Error(w, "Failed to list tasks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func createTaskHTTP(w http.ResponseWriter, r *http.Request, orc *service.Orchestrator) {
	var req struct {
		TemplateID string                 `json:"template_id"`
		UserID     string                 `json:"user_id"`
		Overrides  map[string]interface{} `json:"overrides"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TemplateID == "" || req.UserID == "" {
		http.Error(w, "Missing 'template_id' or 'user_id'", http.StatusBadRequest)
		return
	}
	task, err := orc.CreateTaskFromTemplate(req.TemplateID, req.UserID, req.Overrides)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Template not found", http.StatusNotFound)
			return
		}
		log.GetLogger().Errorf("Failed to create task from template %s: %v", req.TemplateID, err)
		http.Error(w, fmt.Sprintf("Failed to create task: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func executeTaskHandler(orc *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TaskID string `json:"task_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
			http.Error(w, "Missing 'task_id'", http.StatusBadRequest)
			return
		}
		exec, err := orc.ExecuteTask(r.Context(), req.TaskID, service.TriggerContext{TriggeredBy: models.APITrigger})
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			http.Error(w, "Task not found", http.StatusNotFound)
		case errors.Is(err, service.ErrTaskNotActive):
			http.Error(w, "Task is not active", http.StatusConflict)
		case errors.Is(err, service.ErrDependencyBlocked):
			http.Error(w, "Task is blocked by an unsatisfied dependency", http.StatusConflict)
		case err != nil:
			log.GetLogger().Errorf("Failed to execute task %s: %v", req.TaskID, err)
			http.Error(w, "Failed to execute task", http.StatusInternalServerError)
		default:
			// A failed run still answers 200; the execution record
			// carries the failure detail.
			writeJSON(w, http.StatusOK, exec)
		}
	}
}

func executeDueHandler(orc *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		executed, failed, err := orc.ExecuteAllDueTasks(r.Context())
		if err != nil {
			log.GetLogger().Errorf("Failed to execute due tasks: %v", err)
			http.Error(w, "Failed to execute due tasks", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"executed": executed, "failed": failed})
	}
}

func batchesHandler(orc *service.Orchestrator, store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			id := r.URL.Query().Get("id")
			if id == "" {
				http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
				return
			}
			batch, err := store.GetBatch(id)
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "Batch not found", http.StatusNotFound)
				return
			}
			if err != nil {
				log.GetLogger().Errorf("Failed to get batch %s: %v", id, err)
				http.Error(w, "Failed to get batch", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, batch)
		case http.MethodPost:
			var req struct {
				TaskIDs     []string `json:"task_ids"`
				MaxParallel int      `json:"max_parallel"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.TaskIDs) == 0 {
				http.Error(w, "Missing 'task_ids'", http.StatusBadRequest)
				return
			}
			batch, err := orc.ExecuteBatch(r.Context(), req.TaskIDs, req.MaxParallel)
			if err != nil {
				log.GetLogger().Errorf("Failed to execute batch: %v", err)
				http.Error(w, "Failed to execute batch", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, batch)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func analyticsHandler(orc *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		userID := q.Get("user_id")
		if userID == "" {
			http.Error(w, "Missing 'user_id' parameter", http.StatusBadRequest)
			return
		}
		f := storage.AnalyticsFilter{TaskID: q.Get("task_id")}
		if v := q.Get("from"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				http.Error(w, "Invalid 'from' date, expected YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			f.From = t
		}
		if v := q.Get("to"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				http.Error(w, "Invalid 'to' date, expected YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			f.To = t
		}
		report, err := orc.GetTaskAnalytics(userID, f)
		if err != nil {
			log.GetLogger().Errorf("Failed to query analytics for %s: %v", userID, err)
			http.Error(w, "Failed to query analytics", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
