/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"context"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"

	"github.com/basalt-os/basalt/internal/datastore"
)

// handleTransactionGet serves GET /tx: the pending settings of a transaction.
func (s *Server) handleTransactionGet(w http.ResponseWriter, r *http.Request) {
	tx := r.URL.Query().Get("tx")
	if tx == "" {
		tx = DefaultTransaction
	}
	committed, err := datastore.Pending(tx)
	if err != nil {
		SendFailure(w, err)
		return
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	pairs, err := s.collectPrefix("", committed)
	if err != nil {
		SendFailure(w, err)
		return
	}
	value, err := subtree(pairs, "settings")
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendJSON(w, http.StatusOK, value)
}

// handleTransactionDelete serves DELETE /tx: discards a pending transaction and returns the
// keys that were pending in it.
func (s *Server) handleTransactionDelete(w http.ResponseWriter, r *http.Request) {
	tx := r.URL.Query().Get("tx")
	if tx == "" {
		tx = DefaultTransaction
	}
	committed, err := datastore.Pending(tx)
	if err != nil {
		SendFailure(w, err)
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	pending, err := s.ds.ListPopulated("", committed)
	if err != nil {
		SendFailure(w, err)
		return
	}
	if err := s.ds.DeleteTransaction(tx); err != nil {
		SendFailure(w, err)
		return
	}
	SendJSON(w, http.StatusOK, pending.Names())
}

// handleTransactionList serves GET /tx/list: the names of the outstanding transactions.
func (s *Server) handleTransactionList(w http.ResponseWriter, r *http.Request) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	transactions, err := s.ds.ListTransactions()
	if err != nil {
		SendFailure(w, err)
		return
	}
	if transactions == nil {
		transactions = []string{}
	}
	SendJSON(w, http.StatusOK, transactions)
}

// commit folds a transaction into live data and returns the sorted change set.
func (s *Server) commit(tx string) ([]string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	changed, err := s.ds.CommitTransaction(tx)
	if err != nil {
		return nil, err
	}
	return changed.Names(), nil
}

// handleCommit serves POST /tx/commit: commits a transaction without applying it.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	tx := r.URL.Query().Get("tx")
	if tx == "" {
		tx = DefaultTransaction
	}
	changed, err := s.commit(tx)
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendJSON(w, http.StatusOK, changed)
}

// handleApply serves POST /tx/apply: asks the applier to run against live data. With a "keys"
// query only the named keys are applied, otherwise everything is.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	keys, err := keysFromQuery(r, "keys")
	if err != nil {
		SendFailure(w, err)
		return
	}
	var names []string
	for _, key := range keys {
		names = append(names, key.Name())
	}
	s.spawnApplier(r.Context(), names)
	w.WriteHeader(http.StatusNoContent)
}

// handleCommitAndApply serves POST /tx/commit_and_apply: commits a transaction, starts the
// applier for the changed keys, and returns the change set. This is the only path that returns
// the change set, which is what lets callers drive the applier with precise restarts.
func (s *Server) handleCommitAndApply(w http.ResponseWriter, r *http.Request) {
	tx := r.URL.Query().Get("tx")
	if tx == "" {
		tx = DefaultTransaction
	}
	changed, err := s.commit(tx)
	if err != nil {
		SendFailure(w, err)
		return
	}
	s.spawnApplier(r.Context(), changed)
	SendJSON(w, http.StatusOK, changed)
}

// spawnApplier starts the configured applier command in the background. A nil key list means
// apply everything. The request doesn't wait for the applier; restarting services can take a
// while and the commit has already happened.
func (s *Server) spawnApplier(ctx context.Context, keys []string) {
	if len(s.applierCommand) == 0 {
		s.logger.InfoContext(ctx, "No applier command configured, skipping apply")
		return
	}
	argv := append([]string{}, s.applierCommand...)
	if keys == nil {
		argv = append(argv, "--all")
	}
	go func() {
		cmd := exec.Command(argv[0], argv[1:]...)
		if keys != nil {
			cmd.Stdin = strings.NewReader(strings.Join(keys, "\n") + "\n")
		}
		output, err := cmd.CombinedOutput()
		if err != nil {
			s.logger.Error(
				"Applier failed",
				slog.Any("argv", argv),
				slog.String("error", err.Error()),
				slog.String("output", string(output)),
			)
			return
		}
		s.logger.Info(
			"Applier finished",
			slog.Any("argv", argv),
			slog.Int("changed", len(keys)),
		)
	}()
}
