package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

// executeRequestWire is the literal wire shape of POST /engine/execute/
// per spec §6: {"backtest": {"name", "code", "params", "range": {"from", "to"}}}.
type executeRequestWire struct {
	Backtest struct {
		Name   string             `json:"name"`
		Code   string             `json:"code"`
		Params map[string]float64 `json:"params"`
		Range  struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"range"`
	} `json:"backtest"`
}

// toBacktestRequest translates the wire body into the Dispatcher's
// BacktestRequest, pulling the three named parameters out of the flat
// params map and leaving the rest as free-form Parameters.
func (w executeRequestWire) toBacktestRequest(submitter string) models.BacktestRequest {
	params := make(map[string]float64, len(w.Backtest.Params))
	for k, v := range w.Backtest.Params {
		params[k] = v
	}
	initialCapital := params["initialCapital"]
	investmentPerTrade := params["investmentPerTrade"]
	tradingMethod := int(params["trading_method"])
	delete(params, "initialCapital")
	delete(params, "investmentPerTrade")
	delete(params, "trading_method")

	return models.BacktestRequest{
		Symbol:             w.Backtest.Name,
		Code:               w.Backtest.Code,
		Start:              w.Backtest.Range.From,
		End:                w.Backtest.Range.To,
		InitialCapital:     initialCapital,
		InvestmentPerTrade: investmentPerTrade,
		TradingMethod:      tradingMethod,
		Parameters:         params,
		Submitter:          submitter,
	}
}

// handleExecute implements POST /engine/execute/.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var wire executeRequestWire
	if !DecodeJSON(w, r, &wire) {
		return
	}

	req := wire.toBacktestRequest(clientIP(r))
	taskID, err := s.dispatcher.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrValidation):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, common.ErrServiceUnavailable):
			WriteError(w, http.StatusServiceUnavailable, err.Error())
		default:
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"task_id":    taskID,
		"status_url": "/engine/task/" + taskID + "/",
	})
}

// handleTask implements GET /engine/task/<task_id>/. It never blocks:
// a task not yet completed is reported as "pending" immediately.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	taskID := mux.Vars(r)["taskID"]
	result, err := s.dispatcher.Fetch(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "unknown task_id")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Status == models.TaskPending {
		WriteJSON(w, http.StatusOK, map[string]string{"status": string(result.Status)})
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// handleHealth implements GET /engine/health/, reporting the result
// store and execution backend's reachability under the names of the
// components that actually back them here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := map[string]string{"result_store": "ok", "execution_backend": "ok"}
	code := http.StatusOK
	if err := s.dispatcher.HealthCheck(r.Context()); err != nil {
		status["result_store"] = "unavailable"
		status["execution_backend"] = "unavailable"
		status["error"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}
