// Package api is the thin HTTP front for the two caller-visible
// operations: enqueueing a transaction and polling its status. Everything
// else surfaces asynchronously via webhooks.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/Apillon/blockchain-service/services"
	"github.com/Apillon/blockchain-service/types"
)

var logger = logrus.StandardLogger().WithField("module", "api")

type Server struct {
	queueService *services.QueueService
}

type errorResponse struct {
	Error string `json:"error"`
}

// StartServer runs the API HTTP server in the background.
func StartServer(cfg *types.Config, queueService *services.QueueService) error {
	server := &Server{
		queueService: queueService,
	}

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseHandler(server.buildRouter())

	listenAddr := fmt.Sprintf("%v:%v", cfg.Api.Host, cfg.Api.Port)
	httpServer := &http.Server{
		ReadTimeout:  cfg.Api.HttpReadTimeout,
		WriteTimeout: cfg.Api.HttpWriteTimeout,
		IdleTimeout:  cfg.Api.HttpIdleTimeout,
		Addr:         listenAddr,
		Handler:      n,
	}

	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("api server error: %v", err)
		}
	}()
	logger.Infof("api server listening on %v", listenAddr)
	return nil
}

func (server *Server) buildRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/transactions", server.EnqueueTransaction).Methods("POST")
	router.HandleFunc("/transactions/{id}", server.GetTransaction).Methods("GET")
	return router
}

// EnqueueTransaction handles POST /transactions. Validation errors are
// the only synchronous failures a caller sees.
func (server *Server) EnqueueTransaction(w http.ResponseWriter, r *http.Request) {
	req := &services.EnqueueRequest{}
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		writeJson(w, http.StatusBadRequest, &errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	result, err := server.queueService.Enqueue(req)
	if err != nil {
		switch {
		case services.IsValidationError(err):
			writeJson(w, http.StatusBadRequest, &errorResponse{Error: err.Error()})
		case errors.Is(err, services.ErrWalletNotFound):
			writeJson(w, http.StatusNotFound, &errorResponse{Error: services.ErrWalletNotFound.Error()})
		default:
			logger.Errorf("error enqueueing transaction: %v", err)
			writeJson(w, http.StatusInternalServerError, &errorResponse{Error: "internal error"})
		}
		return
	}

	writeJson(w, http.StatusCreated, result)
}

// GetTransaction handles GET /transactions/{id} for status polling.
func (server *Server) GetTransaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		writeJson(w, http.StatusBadRequest, &errorResponse{Error: "invalid transaction id"})
		return
	}

	item := server.queueService.GetQueueItem(id)
	if item == nil {
		writeJson(w, http.StatusNotFound, &errorResponse{Error: "transaction not found"})
		return
	}

	writeJson(w, http.StatusOK, map[string]interface{}{
		"id":                item.Id,
		"chain":             item.Chain,
		"chainType":         item.ChainType,
		"address":           item.Address,
		"nonce":             item.Nonce,
		"transactionHash":   item.TransactionHash,
		"transactionStatus": item.Status.String(),
		"referenceTable":    item.ReferenceTable,
		"referenceId":       item.ReferenceId,
		"webhookTriggered":  item.WebhookTriggered,
		"createTime":        item.CreateTime,
	})
}

func writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		logger.Errorf("error encoding response: %v", err)
	}
}
