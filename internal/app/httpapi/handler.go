// Package httpapi exposes the application services over a REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/sgizm/experiment-server/internal/app"
	"github.com/sgizm/experiment-server/internal/app/domain/constraint"
	"github.com/sgizm/experiment-server/internal/app/services/applications"
	"github.com/sgizm/experiment-server/internal/app/services/constraints"
	"github.com/sgizm/experiment-server/internal/app/services/experiments"
	"github.com/sgizm/experiment-server/internal/app/services/users"
	"github.com/sgizm/experiment-server/internal/app/storage"
	"github.com/sgizm/experiment-server/internal/metrics"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewRouter returns a mux exposing the REST API. Middleware is attached by
// the caller.
func NewRouter(application *app.Application) *mux.Router {
	h := &handler{app: application}
	r := mux.NewRouter()

	r.HandleFunc("/applications", h.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/applications", h.createApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications/{appid:[0-9]+}", h.getApplication).Methods(http.MethodGet)
	r.HandleFunc("/applications/{appid:[0-9]+}", h.deleteApplication).Methods(http.MethodDelete)

	r.HandleFunc("/applications/{appid:[0-9]+}/configurationkeys", h.listConfigurationKeys).Methods(http.MethodGet)
	r.HandleFunc("/applications/{appid:[0-9]+}/configurationkeys", h.createConfigurationKey).Methods(http.MethodPost)
	r.HandleFunc("/applications/{appid:[0-9]+}/configurationkeys/{ckid:[0-9]+}", h.deleteConfigurationKey).Methods(http.MethodDelete)

	r.HandleFunc("/applications/{appid:[0-9]+}/configurationkeys/{ckid:[0-9]+}/rangeconstraints", h.listRangeConstraints).Methods(http.MethodGet)
	r.HandleFunc("/applications/{appid:[0-9]+}/configurationkeys/{ckid:[0-9]+}/rangeconstraints", h.createRangeConstraint).Methods(http.MethodPost)
	r.HandleFunc("/applications/{appid:[0-9]+}/configurationkeys/{ckid:[0-9]+}/rangeconstraints", h.deleteRangeConstraints).Methods(http.MethodDelete)
	r.HandleFunc("/applications/{appid:[0-9]+}/configurationkeys/{ckid:[0-9]+}/rangeconstraints/{rcid:[0-9]+}", h.deleteRangeConstraint).Methods(http.MethodDelete)

	r.HandleFunc("/applications/{appid:[0-9]+}/exclusionconstraints", h.listExclusionConstraints).Methods(http.MethodGet)
	r.HandleFunc("/applications/{appid:[0-9]+}/exclusionconstraints", h.createExclusionConstraint).Methods(http.MethodPost)
	r.HandleFunc("/applications/{appid:[0-9]+}/exclusionconstraints/{ecid:[0-9]+}", h.deleteExclusionConstraint).Methods(http.MethodDelete)

	r.HandleFunc("/operators", h.listOperators).Methods(http.MethodGet)

	r.HandleFunc("/experiments", h.listExperiments).Methods(http.MethodGet)
	r.HandleFunc("/experiments", h.createExperiment).Methods(http.MethodPost)
	r.HandleFunc("/experiments/{expid:[0-9]+}", h.getExperiment).Methods(http.MethodGet)
	r.HandleFunc("/experiments/{expid:[0-9]+}", h.deleteExperiment).Methods(http.MethodDelete)
	r.HandleFunc("/experiments/{expid:[0-9]+}/experimentgroups", h.listExperimentGroups).Methods(http.MethodGet)
	r.HandleFunc("/experiments/{expid:[0-9]+}/experimentgroups", h.createExperimentGroup).Methods(http.MethodPost)
	r.HandleFunc("/experiments/{expid:[0-9]+}/experimentgroups/{egid:[0-9]+}", h.deleteExperimentGroup).Methods(http.MethodDelete)
	r.HandleFunc("/experimentgroups/{egid:[0-9]+}/configurations", h.createConfiguration).Methods(http.MethodPost)

	r.HandleFunc("/configurations", h.configurations).Methods(http.MethodGet)

	r.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users/{id:[0-9]+}", h.getUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{id:[0-9]+}", h.deleteUser).Methods(http.MethodDelete)
	r.HandleFunc("/users/{id:[0-9]+}/experiments", h.userExperiments).Methods(http.MethodGet)

	r.HandleFunc("/events", h.recordEvent).Methods(http.MethodPost)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.app.Applications.ListApplications(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *handler) createApplication(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Applications.CreateApplication(r.Context(), payload.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) getApplication(w http.ResponseWriter, r *http.Request) {
	appID := pathID(r, "appid")
	found, err := h.app.Applications.GetApplication(r.Context(), appID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *handler) deleteApplication(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Applications.DeleteApplication(r.Context(), pathID(r, "appid")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listConfigurationKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.app.Applications.ListConfigurationKeys(r.Context(), pathID(r, "appid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *handler) createConfigurationKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Applications.CreateConfigurationKey(r.Context(), pathID(r, "appid"), payload.Name, payload.Type)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) deleteConfigurationKey(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Applications.DeleteConfigurationKey(r.Context(), pathID(r, "appid"), pathID(r, "ckid")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listRangeConstraints(w http.ResponseWriter, r *http.Request) {
	rcs, err := h.app.Constraints.ListRangeConstraints(r.Context(), pathID(r, "appid"), pathID(r, "ckid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rcs)
}

func (h *handler) createRangeConstraint(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OperatorID int64           `json:"operator_id"`
		Value      json.RawMessage `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Constraints.CreateRangeConstraint(r.Context(), pathID(r, "appid"), pathID(r, "ckid"), payload.OperatorID, payload.Value)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) deleteRangeConstraint(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Constraints.DeleteRangeConstraint(r.Context(), pathID(r, "appid"), pathID(r, "ckid"), pathID(r, "rcid")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteRangeConstraints(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Constraints.DeleteRangeConstraints(r.Context(), pathID(r, "appid"), pathID(r, "ckid")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listExclusionConstraints(w http.ResponseWriter, r *http.Request) {
	ecs, err := h.app.Constraints.ListExclusionConstraints(r.Context(), pathID(r, "appid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ecs)
}

func (h *handler) createExclusionConstraint(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		First  exclusionHalf `json:"first"`
		Second exclusionHalf `json:"second"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ec := constraint.ExclusionConstraint{
		FirstConfigurationKeyID:  payload.First.ConfigurationKeyID,
		FirstOperatorID:          payload.First.OperatorID,
		FirstValueA:              payload.First.ValueA,
		FirstValueB:              payload.First.ValueB,
		SecondConfigurationKeyID: payload.Second.ConfigurationKeyID,
		SecondOperatorID:         payload.Second.OperatorID,
		SecondValueA:             payload.Second.ValueA,
		SecondValueB:             payload.Second.ValueB,
	}
	created, err := h.app.Constraints.CreateExclusionConstraint(r.Context(), pathID(r, "appid"), ec)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type exclusionHalf struct {
	ConfigurationKeyID int64           `json:"configurationkey_id"`
	OperatorID         int64           `json:"operator_id"`
	ValueA             json.RawMessage `json:"value_a"`
	ValueB             json.RawMessage `json:"value_b"`
}

func (h *handler) deleteExclusionConstraint(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Constraints.DeleteExclusionConstraint(r.Context(), pathID(r, "appid"), pathID(r, "ecid")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listOperators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, constraint.Operators())
}

func (h *handler) listExperiments(w http.ResponseWriter, r *http.Request) {
	exps, err := h.app.Experiments.ListExperiments(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exps)
}

func (h *handler) createExperiment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Experiments.CreateExperiment(r.Context(), payload.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) getExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.app.Experiments.GetExperiment(r.Context(), pathID(r, "expid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *handler) deleteExperiment(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Experiments.DeleteExperiment(r.Context(), pathID(r, "expid")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listExperimentGroups(w http.ResponseWriter, r *http.Request) {
	exp, err := h.app.Experiments.GetExperiment(r.Context(), pathID(r, "expid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp.Groups)
}

func (h *handler) createExperimentGroup(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Experiments.CreateGroup(r.Context(), pathID(r, "expid"), payload.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) deleteExperimentGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Experiments.DeleteGroup(r.Context(), pathID(r, "expid"), pathID(r, "egid")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) createConfiguration(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Experiments.CreateConfiguration(r.Context(), pathID(r, "egid"), payload.Key, payload.Value)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// configurations is the first-contact endpoint: it looks the caller up by
// the username header, creates the user when absent, assigns it to one
// group of every experiment it has not joined yet and returns the
// configurations of all its groups.
func (h *handler) configurations(w http.ResponseWriter, r *http.Request) {
	username := r.Header.Get("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username header is required"))
		return
	}
	password := r.Header.Get("password")

	u, err := h.app.Assignment.EnsureUser(r.Context(), username, password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if _, err := h.app.Assignment.AssignToExperiments(r.Context(), u.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	configs, err := h.app.Experiments.ConfigurationsForUser(r.Context(), u.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	all, err := h.app.Users.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	profile, err := h.app.Users.GetProfile(r.Context(), pathID(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Users.DeleteUser(r.Context(), pathID(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) userExperiments(w http.ResponseWriter, r *http.Request) {
	in, out, err := h.app.Users.ExperimentsForUser(r.Context(), pathID(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participating":    in,
		"nonparticipating": out,
	})
}

func (h *handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	username := r.Header.Get("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username header is required"))
		return
	}
	var payload struct {
		Value float64 `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := h.app.Users.RecordEvent(r.Context(), username, payload.Value)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request, name string) int64 {
	// Routes constrain the variable to digits, so parse errors cannot occur.
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

// writeServiceError maps domain sentinels to HTTP statuses: missing ids to
// 404, validation and ownership failures to 400, everything else to 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, constraints.ErrInvalidConstraint),
		errors.Is(err, constraints.ErrNotOwned),
		errors.Is(err, applications.ErrInvalidInput),
		errors.Is(err, experiments.ErrInvalidInput),
		errors.Is(err, users.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
